package gateway

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
)

var (
	unauthorizedMarkers = []string{"unauthorized", "invalid token", "token expired", "invalid_token"}
	signedOutMarkers    = []string{"not logged in", "please login", "please log in"}
	forbiddenMarkers    = []string{"forbidden", "permission denied", "access denied", "not authorized to"}
	networkMarkers      = []string{"enotfound", "econnrefused", "econnreset", "etimedout", "eai_again", "getaddrinfo", "socket hang up", "network is unreachable", "no such host"}

	// bare digits are ids or counts as often as status codes
	statusCodePattern = regexp.MustCompile(`\b(?:status(?:\s+code)?|http(?:/[\d.]+)?|code)\s*[:=]?\s*(401|403)\b`)
)

// Classify maps a failed invocation to an error kind from its output.
// Authorization failures take precedence over network failures because the
// identity CLI reports both through the same generic exit status.
func Classify(label string, res Result, cause error) *autherr.Error {
	text := strings.ToLower(res.Stderr + "\n" + res.Stdout)
	detail := firstLine(res.Stderr)
	if detail == "" {
		detail = firstLine(res.Stdout)
	}
	msg := fmt.Sprintf("%s exited with status %d", label, res.ExitCode)
	if detail != "" {
		msg += ": " + detail
	}
	code := statusCode(text)
	switch {
	case code == "403" || containsAny(text, forbiddenMarkers):
		return autherr.New(autherr.PermissionDenied, msg, cause)
	case code == "401" || containsAny(text, unauthorizedMarkers):
		return autherr.New(autherr.TokenExpired, msg, cause)
	case containsAny(text, signedOutMarkers):
		return autherr.New(autherr.TokenAbsent, msg, cause)
	case containsAny(text, networkMarkers):
		return autherr.New(autherr.NetworkError, msg, cause)
	default:
		e := autherr.New(autherr.ExternalToolError, msg, cause)
		if res.Stderr != "" {
			return e.WithUserMessage(fmt.Sprintf("The identity CLI reported an error: %s. Fix the reported problem and try again.", detail))
		}
		return e
	}
}

// statusCode returns 401 or 403 when text reports one as an HTTP status.
func statusCode(text string) string {
	if m := statusCodePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
