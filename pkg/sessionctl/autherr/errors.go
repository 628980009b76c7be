package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind string

const (
	TokenAbsent                  Kind = "TOKEN_ABSENT"
	TokenExpired                 Kind = "TOKEN_EXPIRED"
	TokenCorruptionDetected      Kind = "TOKEN_CORRUPTION_DETECTED"
	TokenCorruptionUnrecoverable Kind = "TOKEN_CORRUPTION_UNRECOVERABLE"
	NoOrganization               Kind = "NO_ORGANIZATION"
	NoProject                    Kind = "NO_PROJECT"
	NoWorkspace                  Kind = "NO_WORKSPACE"
	ExternalToolTimeout          Kind = "EXTERNAL_TOOL_TIMEOUT"
	ExternalToolError            Kind = "EXTERNAL_TOOL_ERROR"
	PermissionDenied             Kind = "PERMISSION_DENIED"
	NetworkError                 Kind = "NETWORK_ERROR"
)

type kindInfo struct {
	userMessage string
	reauth      bool
	actionable  bool
}

var kinds = map[Kind]kindInfo{
	TokenAbsent: {
		userMessage: "You are not signed in. Run 'sessionctl auth login' to sign in.",
		reauth:      true,
		actionable:  true,
	},
	TokenExpired: {
		userMessage: "Your session has expired. Run 'sessionctl auth login' to sign in again.",
		reauth:      true,
		actionable:  true,
	},
	TokenCorruptionDetected: {
		userMessage: "The stored sign-in token is inconsistent. Run 'sessionctl auth login --force' to repair it.",
		reauth:      true,
		actionable:  true,
	},
	TokenCorruptionUnrecoverable: {
		userMessage: "The stored sign-in token is corrupted and could not be repaired automatically. " +
			"Sign out with the identity CLI, remove its stored access token entry " +
			"(for example 'aio config delete ims.contexts.cli.access_token'), then run 'sessionctl auth login --force'.",
		reauth:     true,
		actionable: true,
	},
	NoOrganization: {
		userMessage: "No organization is selected. Run 'sessionctl org list' and 'sessionctl org select <id>'.",
		actionable:  true,
	},
	NoProject: {
		userMessage: "No project is selected. Run 'sessionctl project list' and 'sessionctl project select <id>'.",
		actionable:  true,
	},
	NoWorkspace: {
		userMessage: "No workspace is selected. Run 'sessionctl workspace list' and 'sessionctl workspace select <id>'.",
		actionable:  true,
	},
	ExternalToolTimeout: {
		userMessage: "The identity CLI did not respond in time. Check your connection and try again.",
		actionable:  true,
	},
	ExternalToolError: {
		userMessage: "The identity CLI reported an error. Check its output above and try again.",
		actionable:  true,
	},
	PermissionDenied: {
		userMessage: "The signed-in account is not allowed to perform this operation. " +
			"Retrying will not help: sign in with an account that has access, " +
			"or ask an administrator to grant access to the selected organization.",
		reauth:     true,
		actionable: true,
	},
	NetworkError: {
		userMessage: "The cloud platform could not be reached. Check your network connection or proxy settings and try again.",
		actionable:  true,
	},
}

// Error is an authentication failure. Values are built by New or Newf at the
// failure point and are not modified afterwards.
type Error struct {
	Kind                     Kind
	Message                  string
	UserMessage              string
	RequiresReauthentication bool
	Actionable               bool
	cause                    error
}

// New builds an Error of the given kind with the kind's default user message.
func New(kind Kind, message string, cause error) *Error {
	info := kinds[kind]
	userMessage := info.userMessage
	if userMessage == "" {
		userMessage = message
	}
	return &Error{
		Kind:                     kind,
		Message:                  message,
		UserMessage:              userMessage,
		RequiresReauthentication: info.reauth,
		Actionable:               info.actionable,
		cause:                    cause,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// WithUserMessage returns a copy of e with a different user message.
func (e *Error) WithUserMessage(msg string) *Error {
	cp := *e
	cp.UserMessage = msg
	return &cp
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind so errors.Is(err, autherr.New(kind, "", nil)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Wrap converts an arbitrary error into an *Error of the given kind unless it
// already is one.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(kind, message, err)
}

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.UserMessage
	}
	return err.Error()
}
