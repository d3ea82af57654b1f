package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
	}{
		{"config code", ErrCodeConfigInvalid, CategoryConfig},
		{"io code", ErrCodeCacheOpen, CategoryIO},
		{"network code", ErrCodeFetchFailed, CategoryNetwork},
		{"validation code", ErrCodeInvalidURL, CategoryValidation},
		{"internal code", ErrCodeEmbeddingFailed, CategoryInternal},
		{"malformed code", "ERR", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestNew_RetryableFlag(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeNetworkTimeout, "t", nil)))
	assert.True(t, IsRetryable(New(ErrCodeRateLimited, "r", nil)))
	assert.False(t, IsRetryable(New(ErrCodeClientRejected, "404", nil)))
	assert.False(t, IsRetryable(New(ErrCodeEmbeddingFailed, "all batches failed", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestSeverity_TotalFailuresAreFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeEmbeddingFailed, "e", nil)))
	assert.True(t, IsFatal(New(ErrCodeNoCandidates, "n", nil)))
	assert.False(t, IsFatal(New(ErrCodeFetchFailed, "f", nil)))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(ErrCodeFetchFailed, cause)
	require.NotNil(t, err)

	assert.Equal(t, "connection reset", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(ErrCodeFetchFailed, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeEmbeddingFailed, "first", nil)
	b := New(ErrCodeEmbeddingFailed, "second", nil)
	c := New(ErrCodeNoCandidates, "other", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeFetchFailed, "f", nil).
		WithDetail("url", "http://example.com").
		WithDetail("attempt", "3")

	assert.Equal(t, "http://example.com", err.Details["url"])
	assert.Equal(t, "3", err.Details["attempt"])
}
