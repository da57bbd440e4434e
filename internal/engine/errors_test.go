package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/agentbus/internal/store"
)

func TestError_Format(t *testing.T) {
	err := &Error{Code: ErrCodeInvalidArgument, Op: "publish", Message: "bad channel", Err: errors.New("invalid channel")}
	assert.Equal(t, "publish: INVALID_ARGUMENT: bad channel: invalid channel", err.Error())

	err = &Error{Code: ErrCodeNotFound, Message: "gone"}
	assert.Equal(t, "NOT_FOUND: gone", err.Error())
}

func TestError_Predicates(t *testing.T) {
	wrapped := fmt.Errorf("cli: %w", &Error{Code: ErrCodeConflict})

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestFromStore(t *testing.T) {
	cause := errors.New("disk I/O error")

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"conflict", fmt.Errorf("insert session: %w", store.ErrConflict), ErrCodeConflict},
		{"not found", fmt.Errorf("get session: %w", store.ErrNotFound), ErrCodeNotFound},
		{"other", cause, ErrCodeStorageUnavailable},
		{"engine error passes through", invalidArgument("publish", "x"), ErrCodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fromStore("op", tt.err)
			assert.Equal(t, tt.want, CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, fromStore("op", nil))
}
