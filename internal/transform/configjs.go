package transform

import (
	"fmt"
	"strings"
)

var jsSingleQuoted = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)

// ConfigJS renders the client's endpoint configuration. prefix is the
// "/(<backend>)" selector in path mode and empty with a fixed backend.
func ConfigJS(prefix string) string {
	return fmt.Sprintf(`var HISTORY_URL = '%[1]s/room-history/';
var API_URL = '%[1]s/api/';
var WEBSOCKET_URL = '%[1]s/socket/';
var CONFIG = {
	API_URL: API_URL,
	HISTORY_URL: HISTORY_URL,
	WEBSOCKET_URL: WEBSOCKET_URL,
	PREFIX: '',
	IS_PTR: false,
	DEBUG: false,
	XSOLLA_SANDBOX: false,
};
`, jsSingleQuoted.Replace(prefix))
}
