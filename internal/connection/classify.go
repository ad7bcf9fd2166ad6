package connection

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// authMarkers are substrings that identify a credential rejection in error
// text from the server or the transport.
var authMarkers = []string{
	"unauthorized",
	"invalid token",
	"jwt expired",
	"token expired",
	"authentication",
}

// Application close codes used by the server for credential rejection.
const (
	closeUnauthorized = 4401
	closeForbidden    = 4403
)

// isAuthFailure reports whether err means the credential was refused.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}

	var dialErr *DialError
	if errors.As(err, &dialErr) {
		if dialErr.StatusCode == http.StatusUnauthorized || dialErr.StatusCode == http.StatusForbidden {
			return true
		}
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == closeUnauthorized || closeErr.Code == closeForbidden {
			return true
		}
	}

	return hasAuthMarker(err.Error())
}

func hasAuthMarker(text string) bool {
	text = strings.ToLower(text)
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// classifyClose describes a read-side termination. closed is false when err
// is not a close frame, i.e. a transport failure.
func classifyClose(err error) (reason string, passive, closed bool) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return err.Error(), false, false
	}

	passive = closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	reason = fmt.Sprintf("close %d", closeErr.Code)
	if closeErr.Text != "" {
		reason += ": " + closeErr.Text
	}
	return reason, passive, true
}
