package ntrip

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultUserAgent is sent in the User-Agent header. Casters commonly require
// the "NTRIP " prefix.
const DefaultUserAgent = "NTRIP rtkbridge"

// buildRequest renders the NTRIP v1 client request.
//
// The request declares "Connection: close" but the socket is kept open for
// the whole session; existing casters expect exactly this header set.
func buildRequest(mount, userAgent, username, password string) []byte {
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	mount = strings.TrimPrefix(mount, "/")
	return []byte(fmt.Sprintf(
		"GET /%s HTTP/1.0\r\nUser-Agent: %s\r\nAccept: */*\r\nConnection: close\r\nAuthorization: Basic %s\r\n\r\n",
		mount, userAgent, auth,
	))
}
