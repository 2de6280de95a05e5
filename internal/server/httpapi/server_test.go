package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/auth"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/entries"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/memory"
	"github.com/dmitrijs2005/entryledger/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret   = "test-secret"
	receiver = "payments@example.com"
)

type testServer struct {
	store *memory.Store
	sink  *mail.Recorder
	deps  *services.Deps
	dir   *services.Directory
	srv   *Server
	alice *models.User
	bob   *models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{store: memory.New(), sink: mail.NewRecorder()}
	log := logging.NewNop()
	m := metrics.NewCollector("test")

	ts.deps = &services.Deps{
		Runner:  ts.store,
		Repos:   ts.store,
		Machine: entrystate.New(entrystate.DefaultPolicy()),
		Logger:  log,
		Metrics: m,
	}
	ts.dir = services.NewDirectory(ts.store, ts.store, 16, time.Hour)
	ts.deps.Dispatcher = services.NewDispatcher(ts.sink, ts.dir,
		services.Addresses{Organizer: "organizer@example.com", Support: "support@example.com"}, log, m)
	ledger := services.NewLedgerService(ts.deps)

	ts.srv = NewServer(Options{
		Address:   ":0",
		Logger:    log,
		Entries:   services.NewEntryService(ts.deps, "2026"),
		Ledger:    ledger,
		Webhook:   services.NewWebhookProcessor(ts.deps, ledger, receiver, nil),
		Metrics:   m,
		Directory: ts.dir,
		JWTSecret: secret,
	})

	users := ts.store.Users(nil)
	var err error
	ts.alice, err = users.Create(context.Background(), &models.User{UserName: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	ts.bob, err = users.Create(context.Background(), &models.User{UserName: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	return ts
}

func token(t *testing.T, cl auth.Claims) string {
	t.Helper()
	tok, err := auth.GenerateToken(cl, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) userToken(t *testing.T, u *models.User) string {
	return token(t, auth.Claims{Role: auth.RoleUser, UserID: u.ID, UserName: u.UserName})
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return ts.do(t, method, path, tok, r, "application/json")
}

func (ts *testServer) ipn(t *testing.T, tok string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/ipn", tok, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (ts *testServer) seed(t *testing.T, e models.Entry) models.Entry {
	t.Helper()
	e.EntryYear = "2026"
	if e.UserID == 0 {
		e.UserID = ts.alice.ID
	}
	if e.Category == "" {
		e.Category = models.CategoryAdvanced
	}
	if e.EntryRef == "" {
		e.EntryRef = "REF" + string(e.Category)
	}
	e.VideoURL, e.Biography, e.Song = "https://video.example.com/1", "bio", "song"
	require.NoError(t, ts.store.Entries(nil).Create(context.Background(), &e))
	return e
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func completed(e models.Entry, txnID string) url.Values {
	return url.Values{
		"custom":         {fmt.Sprintf("video %d", e.ID)},
		"invoice":        {e.EntryRef + "-video-inv#001"},
		"payment_status": {models.PaymentStatusCompleted},
		"txn_id":         {txnID},
		"business":       {receiver},
		"mc_gross":       {"15.00"},
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{Status: models.StatusSubmitted})

	tests := []struct {
		name string
		tok  string
		want int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong role", ts.userToken(t, ts.alice), http.StatusForbidden},
		{"wrong secret", func() string {
			tok, err := auth.GenerateToken(auth.Claims{Role: auth.RoleVerifier}, []byte("other"), time.Hour)
			require.NoError(t, err)
			return tok
		}(), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.ipn(t, tt.tok, completed(e, "TX1"))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.False(t, ts.mustGet(t, e.EntryRef).VideoEntryPaid)
}

func TestNotification_AppliedThenDuplicate(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{EntryRef: "ENTRYREF", Status: models.StatusSubmitted})
	verifier := token(t, auth.Claims{Role: auth.RoleVerifier})

	rec := ts.ipn(t, verifier, completed(e, "TX1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.OutcomeApplied, decode(t, rec)["status"])

	got, err := ts.store.Entries(nil).GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, got.VideoEntryPaid)

	rec = ts.ipn(t, verifier, completed(e, "TX1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.OutcomeDuplicate, decode(t, rec)["status"])

	journal, ok := ts.store.Journal("TX1", models.PaymentStatusCompleted)
	require.True(t, ok)
	assert.Equal(t, "15.00", func() string {
		var raw map[string]string
		require.NoError(t, json.Unmarshal(journal.Payload, &raw))
		return raw["mc_gross"]
	}())
}

func TestNotification_BusinessErrorsAreAcknowledged(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{Status: models.StatusSubmitted})
	verifier := token(t, auth.Claims{Role: auth.RoleVerifier})

	form := completed(e, "TX1")
	form.Set("custom", "video 999")
	rec := ts.ipn(t, verifier, form)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, services.OutcomeRejected, body["status"])
	assert.Contains(t, body["error"], "unknown object")

	form = completed(e, "TX2")
	form.Del("business")
	form.Set("receiver_email", "someone@example.com")
	rec = ts.ipn(t, verifier, form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid receiver")

	rec = ts.ipn(t, verifier, url.Values{"custom": {"video 1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type brokenRepos struct{ *memory.Store }

func (r brokenRepos) Entries(db dbx.DBTX) entries.Repository {
	return brokenEntries{r.Store.Entries(db)}
}

type brokenEntries struct{ entries.Repository }

func (brokenEntries) GetByID(context.Context, int64) (*models.Entry, error) {
	return nil, errors.New("connection reset")
}

func TestNotification_InfrastructureFailureAsksForRetry(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{Status: models.StatusSubmitted})
	ts.deps.Repos = brokenRepos{ts.store}

	rec := ts.ipn(t, token(t, auth.Claims{Role: auth.RoleVerifier}), completed(e, "TX1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, services.OutcomeFailed, decode(t, rec)["status"])
}

func TestPaymentPage(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{EntryRef: "ENTRYREF", Status: models.StatusSubmitted})
	page := token(t, auth.Claims{Role: auth.RolePaymentPage})

	rec := ts.do(t, http.MethodPost, "/entries/ENTRYREF/payments/video", page, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ENTRYREF-video-inv#001", body["invoice_id"])
	assert.Equal(t, fmt.Sprintf("video %d", e.ID), body["custom"])
	assert.Equal(t, "15.00", body["amount"])
	assert.Equal(t, true, body["created"])

	rec = ts.do(t, http.MethodPost, "/entries/ENTRYREF/payments/video", ts.userToken(t, ts.alice), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["created"])

	rec = ts.do(t, http.MethodPost, "/entries/ENTRYREF/payments/video", ts.userToken(t, ts.bob), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/entries/ENTRYREF/payments/membership", page, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.ipn(t, token(t, auth.Claims{Role: auth.RoleVerifier}), completed(e, "TX1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/entries/ENTRYREF/payments/video", page, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "payment already completed")
}

func TestEntryLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.userToken(t, ts.alice)
	admin := token(t, auth.Claims{Role: auth.RoleAdmin, UserName: "boss"})

	rec := ts.doJSON(t, http.MethodPost, "/entries", alice, `{"category":"ADV"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ref := decode(t, rec)["ref"].(string)
	path := "/entries/" + ref

	rec = ts.doJSON(t, http.MethodPost, "/entries", alice, `{"category":"ADV"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, path+"/submit", alice, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.doJSON(t, http.MethodPatch, path, alice, `{"video_url":"https://video.example.com/a","biography":"bio","song":"song"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ADV", decode(t, rec)["category"])

	rec = ts.doJSON(t, http.MethodGet, path, ts.userToken(t, ts.bob), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, path+"/submit", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.StatusSubmitted), decode(t, rec)["status"])

	rec = ts.doJSON(t, http.MethodPost, "/admin"+path+"/decision", alice, `{"status":"selected"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin"+path+"/decision", admin, `{"status":"selected"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.StatusSelected), decode(t, rec)["status"])

	rec = ts.doJSON(t, http.MethodPost, "/admin"+path+"/notify", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["notified_date"])

	rec = ts.doJSON(t, http.MethodPost, path+"/confirm", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.StatusSelectedConfirmed), decode(t, rec)["status"])

	rec = ts.doJSON(t, http.MethodDelete, path, alice, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, path+"/withdraw", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["withdrawn"])

	rec = ts.doJSON(t, http.MethodGet, "/entries", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Contains(t, ts.store.AuditMessages(), fmt.Sprintf("Entry %d (Advanced) confirmed by alice", ts.mustGet(t, ref).ID))
}

func (ts *testServer) mustGet(t *testing.T, ref string) *models.Entry {
	t.Helper()
	e, err := ts.store.Entries(nil).GetByRef(context.Background(), ref)
	require.NoError(t, err)
	return e
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	e := ts.seed(t, models.Entry{Status: models.StatusSubmitted})
	ts.ipn(t, token(t, auth.Claims{Role: auth.RoleVerifier}), completed(e, "TX1"))

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_webhook_notifications_total{outcome="applied",payment_status="Completed"} 1`)
}

func TestInvalidateUserCache(t *testing.T) {
	ts := newTestServer(t)
	admin := token(t, auth.Claims{Role: auth.RoleAdmin, UserName: "boss"})

	rec := ts.do(t, http.MethodDelete, fmt.Sprintf("/admin/users/%d/cache", ts.alice.ID), admin, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/admin/users/abc/cache", admin, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/admin/users/%d/cache", ts.alice.ID), ts.userToken(t, ts.alice), nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
