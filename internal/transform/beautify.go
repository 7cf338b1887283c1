package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

const indentUnit = "    "

// Beautify reformats minified JavaScript: blocks are broken onto indented
// lines and statements end their line. Only whitespace between tokens is
// rewritten; string, template and regular expression tokens are emitted as
// lexed.
func Beautify(src string) (string, error) {
	lexer := lexers.Get("javascript")
	if lexer == nil {
		return "", errors.New("javascript lexer unavailable")
	}
	it, err := lexer.Tokenise(nil, src)
	if err != nil {
		return "", fmt.Errorf("tokenise: %w", err)
	}

	w := &jsWriter{}
	for _, tok := range it.Tokens() {
		switch {
		case tok.Type.InSubCategory(chroma.LiteralString):
			w.write(tok.Value)
		case strings.TrimSpace(tok.Value) == "":
			if strings.Contains(tok.Value, "\n") {
				w.newline = true
			} else {
				w.space = true
			}
		case tok.Type == chroma.CommentSingle:
			w.write(strings.TrimRight(tok.Value, "\r\n"))
			w.newline = true
		case tok.Type.InCategory(chroma.Punctuation):
			for _, c := range tok.Value {
				w.punct(c)
			}
		default:
			w.write(tok.Value)
		}
	}
	return strings.TrimRight(w.sb.String(), " \n") + "\n", nil
}

type jsWriter struct {
	sb      strings.Builder
	indent  int
	parens  int
	space   bool
	newline bool
}

func (w *jsWriter) write(s string) {
	if w.sb.Len() > 0 {
		switch {
		case w.newline:
			w.sb.WriteByte('\n')
			w.sb.WriteString(strings.Repeat(indentUnit, w.indent))
		case w.space:
			w.sb.WriteByte(' ')
		}
	}
	w.space, w.newline = false, false
	w.sb.WriteString(s)
}

func (w *jsWriter) punct(c rune) {
	switch c {
	case '{':
		w.write("{")
		w.indent++
		w.newline = true
	case '}':
		if w.indent > 0 {
			w.indent--
		}
		w.newline = true
		w.write("}")
	case '(', '[':
		w.parens++
		w.write(string(c))
	case ')', ']':
		if w.parens > 0 {
			w.parens--
		}
		w.write(string(c))
	case ';':
		w.write(";")
		if w.parens == 0 {
			w.newline = true
		}
	default:
		w.write(string(c))
	}
}
