package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "atsinbox/contracts/mq"
	"atsinbox/internal/gmail"
	"atsinbox/internal/httpserver"
	"atsinbox/internal/kpi"
	"atsinbox/internal/service/inbox"
	"atsinbox/internal/token"
	"atsinbox/pkg/mq"
	"atsinbox/pkg/trace"
	"atsinbox/pkg/util"
)

const secret = "test-secret"

type fakeService struct {
	listParams inbox.ListParams
	getErr     error
	patchReq   inbox.PatchRequest
	patchErr   error
}

func (f *fakeService) List(_ context.Context, p inbox.ListParams) (*inbox.ListResult, error) {
	f.listParams = p
	return &inbox.ListResult{
		Items: []inbox.Item{},
		Page:  inbox.NewPageInfo(p.Page, p.Limit, 0),
		Stats: kpi.Stats{TotalNew: 3},
	}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*inbox.Detail, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	html := "<p>hi</p>"
	return &inbox.Detail{Item: inbox.Item{ID: id}, BodyHTML: &html}, nil
}

func (f *fakeService) Patch(_ context.Context, id string, req inbox.PatchRequest) (*inbox.Item, error) {
	f.patchReq = req
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	if _, err := inbox.ValidatePatch(req); err != nil {
		return nil, err
	}
	return &inbox.Item{ID: id, Status: "registered"}, nil
}

type fakePublisher struct {
	key     string
	payload any
	err     error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, key string, payload any) error {
	f.key, f.payload = key, payload
	return f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestRouter(svc *fakeService, pub *fakePublisher, db httpserver.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewInboxHandler(svc, pub, "central", nil)
	return NewRouter(h, db, RouterConfig{JWTSecret: secret, RequestTimeout: time.Second, Development: true}, zap.NewNop()).Engine
}

func do(t *testing.T, r http.Handler, method, path, body string, auth bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		tok, err := util.GenerateJWT("ops-1", secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	assert.Equal(t, false, body["ok"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object missing: %v", body)
	return e
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
	w, _ := do(t, r, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))

	w, _ = do(t, r, http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{err: errors.New("refused")})
	w, body := do(t, down, http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "db_not_ready", body["status"])
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
	w, body := do(t, r, http.MethodGet, "/api/inbox", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing token", errorOf(t, body)["message"])
}

func TestTraceHeaderIsEchoed(t *testing.T) {
	r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(trace.HeaderName))
}

func TestList_QueryParsing(t *testing.T) {
	cases := []struct {
		query     string
		wantLimit int
		wantPage  int
	}{
		{"", inbox.DefaultLimit, 1},
		{"?limit=0&page=0", 1, 1},
		{"?limit=abc&page=x", inbox.DefaultLimit, 1},
		{"?limit=9999&page=3", inbox.MaxLimit, 3},
		{"?limit=20.9&page=-4", 20, 1},
	}
	for _, tc := range cases {
		svc := &fakeService{}
		r := newTestRouter(svc, &fakePublisher{}, fakePinger{})
		w, body := do(t, r, http.MethodGet, "/api/inbox"+tc.query, "", true)
		require.Equal(t, http.StatusOK, w.Code, tc.query)
		assert.Equal(t, tc.wantLimit, svc.listParams.Limit, tc.query)
		assert.Equal(t, tc.wantPage, svc.listParams.Page, tc.query)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, float64(3), body["stats"].(map[string]any)["totalNew"])
	}

	svc := &fakeService{}
	r := newTestRouter(svc, &fakePublisher{}, fakePinger{})
	do(t, r, http.MethodGet, "/api/inbox?toEmail=%20jobs@acme.example%20&search=taro", "", true)
	assert.Equal(t, "jobs@acme.example", svc.listParams.ToEmail)
	assert.Equal(t, "taro", svc.listParams.Search)
}

func TestGet_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", inbox.ErrNotFound, http.StatusNotFound},
		{"no connection", token.ErrConnectionNotFound, http.StatusBadGateway},
		{"token exchange", &token.TokenExchangeError{StatusCode: 400, Body: "invalid_grant"}, http.StatusBadGateway},
		{"gmail", &gmail.APIError{StatusCode: 404, Body: "gone"}, http.StatusBadGateway},
		{"store", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeService{getErr: tc.err}, &fakePublisher{}, fakePinger{})
			w, body := do(t, r, http.MethodGet, "/api/inbox/abc", "", true)
			assert.Equal(t, tc.want, w.Code)
			if tc.err == nil {
				item := body["item"].(map[string]any)
				assert.Equal(t, "abc", item["id"])
				assert.Equal(t, "<p>hi</p>", item["bodyHtml"])
			}
		})
	}
}

func TestPatch(t *testing.T) {
	t.Run("invalid status echoes value", func(t *testing.T) {
		r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
		w, body := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"status":"archived"}`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		e := errorOf(t, body)
		assert.Equal(t, "status", e["field"])
		assert.Equal(t, "archived", e["value"])
	})

	t.Run("empty status is echoed too", func(t *testing.T) {
		r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
		w, body := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"status":"  "}`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "", errorOf(t, body)["value"])
	})

	t.Run("non-string field", func(t *testing.T) {
		r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
		w, body := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"jobId":42}`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "jobId", errorOf(t, body)["field"])
	})

	t.Run("no fields", func(t *testing.T) {
		r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
		w, _ := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"other":"x"}`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := newTestRouter(&fakeService{}, &fakePublisher{}, fakePinger{})
		w, _ := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"status":`, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("snake case mail type and null clears job", func(t *testing.T) {
		svc := &fakeService{}
		r := newTestRouter(svc, &fakePublisher{}, fakePinger{})
		w, body := do(t, r, http.MethodPatch, "/api/inbox/abc", `{"mail_type":"non-application","jobId":null}`, true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "abc", body["item"].(map[string]any)["id"])
		require.NotNil(t, svc.patchReq.MailType)
		assert.Equal(t, "non-application", *svc.patchReq.MailType)
		require.NotNil(t, svc.patchReq.JobID)
		assert.Equal(t, "", *svc.patchReq.JobID)
		assert.Nil(t, svc.patchReq.Status)
	})

	t.Run("camel case wins", func(t *testing.T) {
		svc := &fakeService{}
		r := newTestRouter(svc, &fakePublisher{}, fakePinger{})
		do(t, r, http.MethodPatch, "/api/inbox/abc", `{"mailType":"application","mail_type":"non_application"}`, true)
		require.NotNil(t, svc.patchReq.MailType)
		assert.Equal(t, "application", *svc.patchReq.MailType)
	})

	t.Run("unknown id", func(t *testing.T) {
		r := newTestRouter(&fakeService{patchErr: inbox.ErrNotFound}, &fakePublisher{}, fakePinger{})
		w, _ := do(t, r, http.MethodPatch, "/api/inbox/missing", `{"status":"ng"}`, true)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRequestSync(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRouter(&fakeService{}, pub, fakePinger{})

	w, body := do(t, r, http.MethodPost, "/api/inbox/sync", `{"force":true}`, true)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, mq.RoutingKeySyncRequested, pub.key)

	p, ok := pub.payload.(mqcontracts.SyncRequestedPayload)
	require.True(t, ok)
	assert.True(t, p.Force)
	assert.Equal(t, "central", p.ConnectionID)
	assert.Equal(t, "ops-1", p.RequestedBy)

	w, _ = do(t, r, http.MethodPost, "/api/inbox/sync", "", true)
	assert.Equal(t, http.StatusAccepted, w.Code)

	failing := newTestRouter(&fakeService{}, &fakePublisher{err: errors.New("channel closed")}, fakePinger{})
	w, _ = do(t, failing, http.MethodPost, "/api/inbox/sync", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 50, clampInt("", 1, 500, 50))
	assert.Equal(t, 50, clampInt("NaN", 1, 500, 50))
	assert.Equal(t, 1, clampInt("-7", 1, 500, 50))
	assert.Equal(t, 500, clampInt("1e9", 1, 500, 50))
	assert.Equal(t, 7, clampInt(" 7 ", 1, 500, 50))
}
