package p2p

import (
	"errors"
	"io"
	"net"
	"strings"
)

// isExpectedCloseError reports true for close/reset errors that are routine
// when the remote peer already hung up (disconnects, restarts, etc), so
// callers can suppress console logging for them.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "reset by peer"):
		return true
	default:
		return false
	}
}
