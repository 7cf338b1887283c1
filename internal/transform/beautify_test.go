package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeautify(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "block",
			src:  "function f(){return 1;}",
			want: []string{"function f(){\n    return 1;\n}"},
		},
		{
			name: "nested blocks",
			src:  "if(a){if(b){c();}}",
			want: []string{"if(a){\n    if(b){\n        c();\n    }\n}"},
		},
		{
			name: "for header stays on one line",
			src:  "for(var i=0;i<3;i++){x(i);}",
			want: []string{"for(var i=0;i<3;i++){\n    x(i);\n}"},
		},
		{
			name: "line comment ends line",
			src:  "a();// note\nb();",
			want: []string{"a();\n// note\nb();"},
		},
		{
			name: "template whitespace untouched",
			src:  "var s=`${a}  ${b}`;var t=`x\n${c}`;var u=`\n  ${d}\t`;",
			want: []string{"`${a}  ${b}`", "`x\n${c}`", "`\n  ${d}\t`"},
		},
		{
			name: "strings untouched",
			src:  `var s="{;}";`,
			want: []string{`var s="{;}";`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Beautify(tt.src)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}
