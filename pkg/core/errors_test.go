package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type retryable bool

func (r retryable) Error() string   { return "status error" }
func (r retryable) Transient() bool { return bool(r) }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"denied", fmt.Errorf("start: %w", ErrGeolocationDenied), KindGeolocationDenied},
		{"unavailable", ErrGeolocationUnavailable, KindGeolocationUnavailable},
		{"timeout", ErrGeolocationTimeout, KindGeolocationTimeout},
		{"coordinate", fmt.Errorf("%w: lat=91", ErrInvalidCoordinate), KindInvalidCoordinate},
		{"baseline", ErrNoBaselinePosition, KindNoBaselinePosition},
		{"unreachable", ErrUnreachable, KindTransientNetwork},
		{"deadline", context.DeadlineExceeded, KindTransientNetwork},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransientNetwork},
		{"retryable", retryable(true), KindTransientNetwork},
		{"permanent", retryable(false), KindUnknown},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsCapability(t *testing.T) {
	assert.True(t, IsCapability(ErrGeolocationDenied))
	assert.True(t, IsCapability(fmt.Errorf("wrapped: %w", ErrGeolocationTimeout)))
	assert.False(t, IsCapability(ErrUnreachable))
	assert.False(t, IsCapability(nil))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(fmt.Errorf("post: %w", ErrUnreachable)))
}
