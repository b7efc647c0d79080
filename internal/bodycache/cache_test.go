package bodycache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atsinbox/internal/gmail"
	"atsinbox/internal/model"
	"atsinbox/internal/token"
)

type memStore struct {
	mu      sync.Mutex
	rows    map[string]*model.CachedMessage
	threads map[string]*model.CachedMessage
	upserts int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*model.CachedMessage{}, threads: map[string]*model.CachedMessage{}}
}

func (s *memStore) GetCached(_ context.Context, id string) (*model.CachedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

func (s *memStore) LatestInThread(_ context.Context, threadID string) (*model.CachedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[threadID], nil
}

func (s *memStore) Upsert(_ context.Context, m *model.CachedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.rows[m.ID] = m
	return nil
}

type staticToken struct {
	token string
	err   error
}

func (s staticToken) GetValidAccessToken(context.Context) (string, error) { return s.token, s.err }

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) GetMessage(ctx context.Context, accessToken, id, format string) (*gmail.Message, error) {
	args := m.Called(ctx, accessToken, id, format)
	msg, _ := args.Get(0).(*gmail.Message)
	return msg, args.Error(1)
}

func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func htmlPayload(t *testing.T, html string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(gmail.MessagePart{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64(html)}})
	require.NoError(t, err)
	return b
}

func strPtr(s string) *string { return &s }

func TestGetBody_CacheHitSkipsUpstream(t *testing.T) {
	store := newMemStore()
	store.rows["g1"] = &model.CachedMessage{ID: "g1", Payload: htmlPayload(t, "<p>cached</p>")}
	fetcher := &mockFetcher{}

	c := New(store, staticToken{token: "tok"}, fetcher, nil)
	got, err := c.GetBody(context.Background(), &model.InboxMessage{GmailMessageID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "<p>cached</p>", got.HTML)
	fetcher.AssertNotCalled(t, "GetMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetBody_ThreadFallback(t *testing.T) {
	store := newMemStore()
	store.threads["t1"] = &model.CachedMessage{ID: "g0", ThreadID: "t1", Payload: htmlPayload(t, "<p>thread</p>")}

	c := New(store, staticToken{token: "tok"}, &mockFetcher{}, nil)
	got, err := c.GetBody(context.Background(), &model.InboxMessage{GmailMessageID: "g1", ThreadID: strPtr("t1")})
	require.NoError(t, err)
	assert.Equal(t, "<p>thread</p>", got.HTML)
}

func TestGetBody_MissFetchesOnceAndCaches(t *testing.T) {
	store := newMemStore()
	fetcher := &mockFetcher{}
	fetcher.On("GetMessage", mock.Anything, "tok", "g1", "full").Return(&gmail.Message{
		ID:           "g1",
		ThreadID:     "t1",
		Snippet:      "hello",
		InternalDate: "1767225600000",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers:  []gmail.Header{{Name: "Subject", Value: "応募"}, {Name: "From", Value: "a@indeedemail.com"}},
			Body:     &gmail.MessagePartBody{Data: b64("plain text")},
		},
	}, nil).Once()

	c := New(store, staticToken{token: "tok"}, fetcher, nil)
	msg := &model.InboxMessage{GmailMessageID: "g1"}

	got, err := c.GetBody(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "plain text", got.Text)
	assert.Equal(t, 1, store.upserts)

	row := store.rows["g1"]
	require.NotNil(t, row)
	assert.Equal(t, "t1", row.ThreadID)
	assert.Equal(t, "応募", *row.Subject)
	require.NotNil(t, row.InternalDate)

	// second read is served from the cache
	got, err = c.GetBody(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "plain text", got.Text)
	fetcher.AssertExpectations(t)
}

func TestGetBody_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	store := newMemStore()
	started := make(chan context.Context, 1)
	release := make(chan struct{})
	fetcher := &mockFetcher{}
	fetcher.On("GetMessage", mock.Anything, "tok", "g1", "full").
		Run(func(args mock.Arguments) {
			started <- args.Get(0).(context.Context)
			<-release
		}).
		Return(&gmail.Message{
			ID:      "g1",
			Payload: &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("body")}},
		}, nil).Once()

	c := New(store, staticToken{token: "tok"}, fetcher, nil)
	msg := &model.InboxMessage{GmailMessageID: "g1"}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.GetBody(ctx, msg)
		errc <- err
	}()

	fetchCtx := <-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.NoError(t, fetchCtx.Err(), "shared fetch keeps running")

	close(release)
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.upserts == 1
	}, time.Second, 5*time.Millisecond)

	got, err := c.GetBody(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "body", got.Text)
	fetcher.AssertExpectations(t)
}

func TestGetBody_EmptyCachedPayloadRefetches(t *testing.T) {
	store := newMemStore()
	store.rows["g1"] = &model.CachedMessage{ID: "g1", Payload: json.RawMessage(`{"mimeType":"text/plain"}`)}
	fetcher := &mockFetcher{}
	fetcher.On("GetMessage", mock.Anything, "tok", "g1", "full").Return(&gmail.Message{
		ID:      "g1",
		Payload: &gmail.MessagePart{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<div>x</div>")}},
	}, nil).Once()

	got, err := New(store, staticToken{token: "tok"}, fetcher, nil).GetBody(context.Background(), &model.InboxMessage{GmailMessageID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "<div>x</div>", got.HTML)
	fetcher.AssertExpectations(t)
}

func TestGetBody_UpstreamErrors(t *testing.T) {
	t.Run("token", func(t *testing.T) {
		c := New(newMemStore(), staticToken{err: token.ErrConnectionNotFound}, &mockFetcher{}, nil)
		_, err := c.GetBody(context.Background(), &model.InboxMessage{GmailMessageID: "g1"})
		assert.ErrorIs(t, err, token.ErrConnectionNotFound)
	})

	t.Run("fetch", func(t *testing.T) {
		fetcher := &mockFetcher{}
		fetcher.On("GetMessage", mock.Anything, "tok", "g1", "full").
			Return(nil, &gmail.APIError{StatusCode: 404, Body: "not found"})
		store := newMemStore()
		_, err := New(store, staticToken{token: "tok"}, fetcher, nil).GetBody(context.Background(), &model.InboxMessage{GmailMessageID: "g1"})
		var apiErr *gmail.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 404, apiErr.StatusCode)
		assert.Zero(t, store.upserts)
	})
}

func TestGetBody_NoUpstreamIDReturnsEmpty(t *testing.T) {
	got, err := New(newMemStore(), staticToken{token: "tok"}, &mockFetcher{}, nil).GetBody(context.Background(), &model.InboxMessage{})
	require.NoError(t, err)
	assert.True(t, got.Empty())
}
