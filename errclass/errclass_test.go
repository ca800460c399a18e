package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ByStatusCode(t *testing.T) {
	testCases := []struct {
		status   int
		expected Code
	}{
		{429, RateLimited},
		{401, Auth},
		{403, Auth},
		{404, NotFound},
		{400, Validation},
		{422, Validation},
		{408, Timeout},
		{504, Timeout},
		{502, Connection},
		{503, Connection},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			err := &openai.APIError{HTTPStatusCode: tc.status, Message: "provider error"}
			c := Classify(err)
			require.NotNil(t, c)
			assert.Equal(t, tc.expected, c.Code)
		})
	}
}

func TestClassify_ByMessagePattern(t *testing.T) {
	testCases := []struct {
		message  string
		expected Code
	}{
		{"got 429 from upstream", RateLimited},
		{"Rate limit exceeded, slow down", RateLimited},
		{"too many requests", RateLimited},
		{"request timeout while waiting", Timeout},
		{"connection refused", Connection},
		{"dial tcp 10.0.0.1:443: no route", Connection},
		{"unauthorized: invalid api key", Auth},
		{"model not found", NotFound},
		{"invalid request payload", Validation},
		{"something exploded", Unknown},
	}

	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			c := Classify(errors.New(tc.message))
			require.NotNil(t, c)
			assert.Equal(t, tc.expected, c.Code)
		})
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	c := Classify(context.DeadlineExceeded)
	require.NotNil(t, c)
	assert.Equal(t, Timeout, c.Code)
	assert.True(t, c.Recoverable())
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := New(Auth, "bad key")
	wrapped := fmt.Errorf("call failed: %w", orig)
	c := Classify(wrapped)
	assert.Equal(t, Auth, c.Code)
}

func TestCode_Recoverable(t *testing.T) {
	assert.True(t, Timeout.Recoverable())
	assert.True(t, RateLimited.Recoverable())
	assert.True(t, Connection.Recoverable())
	assert.False(t, Auth.Recoverable())
	assert.False(t, NotFound.Recoverable())
	assert.False(t, Validation.Recoverable())
	assert.False(t, Unknown.Recoverable())
}

func TestClassified_Unwrap(t *testing.T) {
	sentinel := errors.New("boom")
	c := Wrap(Connection, sentinel)
	assert.True(t, errors.Is(c, sentinel))
	assert.Contains(t, c.Error(), "CONNECTION_ERROR")
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("rate limit hit")))
	assert.False(t, IsRateLimited(errors.New("boom")))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsRecoverable(errors.New("connection reset by peer")))
	assert.False(t, IsRecoverable(errors.New("boom")))
	assert.False(t, IsRecoverable(nil))
}
