package csr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()

	base := Transient("search", errors.New("connection reset"))
	wrapped := fmt.Errorf("locate acme: %w", base)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
}

func TestHTTPStatusErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusNotFound, KindNotFound},
		{http.StatusGone, KindNotFound},
		{http.StatusForbidden, KindNotFound},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
	}
	for _, tt := range tests {
		err := HTTPStatusError("download", tt.status)
		assert.Equal(t, tt.want, err.Kind, "status %d", tt.status)
		assert.Equal(t, DetailHTTPStatus, err.Detail)
		assert.Equal(t, tt.status, err.StatusCode)
	}
}

func TestErrorMessageIncludesDetail(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindResource, Op: "download", Detail: DetailWrite, Err: errors.New("disk full")}
	require.EqualError(t, err, "download (write): disk full")
	assert.True(t, err.Kind.Retryable())
	assert.False(t, KindConflict.Retryable())
	assert.False(t, KindNotFound.Retryable())
}

func TestIsCanceled(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCanceled(fmt.Errorf("fetch: %w", context.Canceled)))
	assert.False(t, IsCanceled(context.DeadlineExceeded))
}
