package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atsinbox/pkg/circuitbreaker"
)

func TestClient_GetMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/abc", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Message{ID: "abc", ThreadID: "t1", Snippet: "hi"})
	}))
	defer srv.Close()

	m, err := NewClient(srv.URL, srv.Client()).GetMessage(context.Background(), "tok", "abc", "full")
	require.NoError(t, err)
	assert.Equal(t, "t1", m.ThreadID)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	for i := 0; i < 10; i++ {
		_, err := c.GetMessage(context.Background(), "tok", "missing", "full")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "404s never open the breaker")
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "not found")
	}
}

func TestClient_ServerFailuresOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	for i := 0; i < circuitbreaker.DefaultConfig().FailureThreshold; i++ {
		_, err := c.ListLabels(context.Background(), "tok")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	_, err := c.ListLabels(context.Background(), "tok")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(circuitbreaker.DefaultConfig().FailureThreshold), calls.Load(), "open breaker short-circuits")
}

func TestClient_ListMessagesAndLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/messages":
			q := r.URL.Query()
			assert.Equal(t, []string{"Label_1"}, q["labelIds"])
			assert.Equal(t, "after:2026/01/01", q.Get("q"))
			assert.Equal(t, "p2", q.Get("pageToken"))
			assert.Equal(t, "200", q.Get("maxResults"))
			_, _ = w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"}],"nextPageToken":"p3"}`))
		case "/labels":
			_, _ = w.Write([]byte(`{"labels":[{"id":"Label_1","name":"ATS/応募"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	page, err := c.ListMessages(context.Background(), "tok", []string{"Label_1"}, "after:2026/01/01", "p2", 200)
	require.NoError(t, err)
	assert.Equal(t, "p3", page.NextPageToken)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].ID)

	labels, err := c.ListLabels(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "ATS/応募", labels[0].Name)
}
