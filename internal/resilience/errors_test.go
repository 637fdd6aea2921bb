package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_TaggedErrors(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"configuration", Configuration(base), KindConfiguration},
		{"transient", Transient(base), KindTransient},
		{"parse", Parse(base), KindParse},
		{"validation", Validation(base), KindValidation},
		{"infrastructure", Infrastructure(base), KindInfrastructure},
		{"wrapped validation", eris.Wrap(Validation(base), "pipeline: validate"), KindValidation},
		{"untagged", base, KindUnknown},
		{"deadline", fmt.Errorf("tier: %w", context.DeadlineExceeded), KindTransient},
		{"circuit open", ErrCircuitOpen, KindTransient},
		{"transient error", NewTransientError(base, 503), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTagNilStaysNil(t *testing.T) {
	assert.NoError(t, Validation(nil))
	assert.NoError(t, Parse(nil))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(eris.Wrap(Validation(errors.New("empty file")), "x")))
	assert.False(t, IsValidation(Parse(errors.New("bad json"))))
	assert.False(t, IsValidation(nil))
}

func TestKindError_UnwrapAndMessage(t *testing.T) {
	inner := errors.New("schema mismatch")
	err := Parse(inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "schema mismatch", err.Error())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("call: %w", NewTransientError(errors.New("rate"), 429)), true},
		{"tagged", Transient(errors.New("quota")), true},
		{"regular", errors.New("invalid input"), false},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"pattern", errors.New("Post https://x: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
