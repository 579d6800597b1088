package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *ChatAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewChatAdapter(ChatConfig{
		APIKey: "test-key",
		APIURL: srv.URL,
		Model:  "test-model",
	})
	require.NoError(t, err)
	return adapter
}

func completionJSON(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestChatAdapter_TranslatesBatchInOrder(t *testing.T) {
	adapter := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)

		// Echo each input line with a suffix.
		lines := strings.Split(req.Messages[1].Content, lineDelimiter)
		for i := range lines {
			lines[i] += "!"
		}
		_, _ = w.Write([]byte(completionJSON(strings.Join(lines, lineDelimiter))))
	})

	out, err := adapter.Translate(context.Background(), []string{"Hello", "World"}, "French", Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"Hello!", "World!"}, out)
}

func TestChatAdapter_CountMismatch(t *testing.T) {
	adapter := chatServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionJSON("just one line")))
	})

	_, err := adapter.Translate(context.Background(), []string{"a", "b"}, "French", Options{})
	require.ErrorIs(t, err, ErrCountMismatch)
	require.Equal(t, KindUnknown, Classify(err))
}

func TestChatAdapter_ClassifiesStatusCodes(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusUnauthorized:        KindAuth,
		http.StatusForbidden:           KindAuth,
		http.StatusBadRequest:          KindContentRejected,
		http.StatusInternalServerError: KindTransient,
		http.StatusBadGateway:          KindTransient,
		http.StatusTeapot:              KindUnknown,
	}

	for status, want := range cases {
		adapter := chatServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})

		_, err := adapter.Translate(context.Background(), []string{"x"}, "French", Options{})
		require.Error(t, err)

		var be *Error
		require.ErrorAs(t, err, &be)
		require.Equal(t, want, be.Kind, "status %d", status)
	}
}

func TestChatAdapter_NetworkErrorIsTransient(t *testing.T) {
	adapter, err := NewChatAdapter(ChatConfig{
		APIKey: "k",
		APIURL: "http://127.0.0.1:1", // nothing listens here
		Model:  "m",
	})
	require.NoError(t, err)

	_, err = adapter.Translate(context.Background(), []string{"x"}, "French", Options{})
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, KindTransient, be.Kind)
	require.True(t, be.Retryable())
}

func TestChatConfig_Validate(t *testing.T) {
	_, err := NewChatAdapter(ChatConfig{APIURL: "http://x", Model: "m"})
	require.Error(t, err)

	_, err = NewChatAdapter(ChatConfig{APIKey: "k", Model: "m"})
	require.Error(t, err)

	_, err = NewChatAdapter(ChatConfig{APIKey: "k", APIURL: "http://x"})
	require.Error(t, err)
}

func TestError_Retryable(t *testing.T) {
	require.True(t, (&Error{Kind: KindRateLimited}).Retryable())
	require.True(t, (&Error{Kind: KindTransient}).Retryable())
	require.True(t, (&Error{Kind: KindUnknown}).Retryable())
	require.False(t, (&Error{Kind: KindAuth}).Retryable())
	require.False(t, (&Error{Kind: KindContentRejected}).Retryable())
}

func TestClassify_PlainError(t *testing.T) {
	require.Equal(t, KindUnknown, Classify(errors.New("boom")))
}
