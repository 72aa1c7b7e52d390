package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchError(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		err := &FetchError{Kind: ErrHTTP, URL: "https://api-1.exptech.dev/x", StatusCode: 503}
		assert.Equal(t, "GET https://api-1.exptech.dev/x: upstream returned non-2xx status: status 503", err.Error())
		assert.True(t, errors.Is(err, ErrHTTP))
		assert.False(t, errors.Is(err, ErrTimeout))
	})

	t.Run("wraps cause", func(t *testing.T) {
		err := &FetchError{Kind: ErrTimeout, URL: "u", Err: context.DeadlineExceeded}
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Contains(t, err.Error(), "deadline exceeded")
	})

	t.Run("kind already in cause is not repeated", func(t *testing.T) {
		cause := fmt.Errorf("%w: station directory: bad", ErrMalformed)
		err := &FetchError{Kind: ErrMalformed, URL: "https://api-1.exptech.dev/api/v1/trem/station", Err: cause}
		assert.Equal(t, "GET https://api-1.exptech.dev/api/v1/trem/station: malformed upstream data: station directory: bad", err.Error())
		assert.True(t, errors.Is(err, ErrMalformed))
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&FetchError{Kind: ErrTimeout}, "timeout"},
		{&FetchError{Kind: ErrNetwork}, "network"},
		{&FetchError{Kind: ErrHTTP, StatusCode: 500}, "http"},
		{fmt.Errorf("decode: %w", ErrMalformed), "malformed"},
		{ErrMissingMetadata, "missing_metadata"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}
