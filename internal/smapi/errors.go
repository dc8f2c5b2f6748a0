package smapi

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// RequestError reports a non-success outcome from the management
// gateway: either an HTTP-level failure or an explicit error record in
// an otherwise well-formed response.
type RequestError struct {
	Method string
	Path   string

	// Code is the HTTP status for transport-level failures, or the
	// remote return code when the gateway reported one.
	Code int

	// ReasonCode qualifies Code for remote failures. Zero when the
	// gateway did not supply one.
	ReasonCode int

	// Reason is the raw error text from the gateway.
	Reason string
}

func (e *RequestError) Error() string {
	if e.ReasonCode != 0 {
		return fmt.Sprintf("%s %s: return code %d, reason code %d: %s",
			e.Method, e.Path, e.Code, e.ReasonCode, e.Reason)
	}
	return fmt.Sprintf("%s %s: code %d: %s", e.Method, e.Path, e.Code, e.Reason)
}

// MalformedResponseError reports a response that decoded but lacked an
// expected field. It is always fatal: the poller must never retry it.
type MalformedResponseError struct {
	Want string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed gateway response: missing %s", e.Want)
}

var (
	returnCodeRe = regexp.MustCompile(`Return Code:\s*(\d+)`)
	reasonCodeRe = regexp.MustCompile(`Reason Code:\s*(\d+)`)
)

// parseRemoteCodes extracts "Return Code: N" and "Reason Code: M" from
// gateway error text. Missing codes come back as zero.
func parseRemoteCodes(text string) (int, int) {
	var code, reason int
	if m := returnCodeRe.FindStringSubmatch(text); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	if m := reasonCodeRe.FindStringSubmatch(text); m != nil {
		reason, _ = strconv.Atoi(m[1])
	}
	return code, reason
}

// IsNotFound reports whether err means the addressed object does not
// exist in the management domain. Destroy-family operations use this to
// short-circuit to success.
func IsNotFound(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	if re.Code == 404 {
		return true
	}
	if re.Code == 400 && re.ReasonCode == 4 {
		return true
	}
	return strings.Contains(re.Reason, "Could not find an object") ||
		(strings.Contains(re.Reason, "Invalid nodes and/or groups") &&
			strings.Contains(re.Reason, "Forbidden"))
}

// IsLocked reports whether err means the virtual machine or one of its
// devices is locked and the operation should be retried after the lock
// clears.
func IsLocked(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return re.Code == 400 && (re.ReasonCode == 12 || re.ReasonCode == 16)
}

// IsTransient reports whether err is a temporary condition worth
// retrying inside a poller: connection timeouts, unreachable gateway,
// and overload-class HTTP statuses. A MalformedResponseError is never
// transient.
func IsTransient(err error) bool {
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return false
	}

	var re *RequestError
	if errors.As(err, &re) {
		switch re.Code {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
