package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_KindDefaults(t *testing.T) {
	tests := []struct {
		kind   Kind
		reauth bool
	}{
		{TokenAbsent, true},
		{TokenExpired, true},
		{TokenCorruptionDetected, true},
		{TokenCorruptionUnrecoverable, true},
		{NoOrganization, false},
		{NoProject, false},
		{NoWorkspace, false},
		{ExternalToolTimeout, false},
		{ExternalToolError, false},
		{PermissionDenied, true},
		{NetworkError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "technical detail", nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.reauth, err.RequiresReauthentication)
			assert.True(t, err.Actionable)
			assert.NotEmpty(t, err.UserMessage)
			assert.NotEqual(t, string(tt.kind), err.UserMessage)
		})
	}
}

func TestPermissionDeniedDoesNotSuggestRetry(t *testing.T) {
	err := New(PermissionDenied, "403 from console", nil)
	assert.Contains(t, err.UserMessage, "Retrying will not help")
	assert.Contains(t, err.UserMessage, "sign in with an account")
}

func TestUnrecoverableCarriesRemediation(t *testing.T) {
	err := New(TokenCorruptionUnrecoverable, "still corrupted", nil)
	assert.Contains(t, err.UserMessage, "config delete")
	assert.Contains(t, err.UserMessage, "--force")
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("exit status 1")
	err := New(ExternalToolError, "logout failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "EXTERNAL_TOOL_ERROR")
	assert.Contains(t, err.Error(), "exit status 1")

	wrapped := fmt.Errorf("context: %w", err)
	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ExternalToolError, got.Kind)
	assert.True(t, IsKind(wrapped, ExternalToolError))
	assert.False(t, IsKind(wrapped, NetworkError))
	assert.Equal(t, ExternalToolError, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, New(ExternalToolError, "", nil)))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, NetworkError, "x"))

	existing := New(NoProject, "missing", nil)
	assert.Same(t, existing, Wrap(fmt.Errorf("outer: %w", existing), NetworkError, "x"))

	plain := errors.New("dial tcp: i/o timeout")
	got := Wrap(plain, NetworkError, "listing organizations")
	assert.Equal(t, NetworkError, got.Kind)
	assert.ErrorIs(t, got, plain)
}

func TestWithUserMessageCopies(t *testing.T) {
	orig := New(TokenAbsent, "no token", nil)
	custom := orig.WithUserMessage("custom")
	assert.Equal(t, "custom", custom.UserMessage)
	assert.NotEqual(t, "custom", orig.UserMessage)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	assert.Contains(t, UserMessage(New(TokenExpired, "", nil)), "auth login")
}
