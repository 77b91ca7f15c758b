package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/personabot/internal/broadcast"
	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/identity/identitytest"
	"github.com/edgard/personabot/internal/logger"
)

const (
	adminUser = "admin"
	adminPass = "s3cret-pass"
)

type countingActivator struct {
	calls atomic.Int32
}

func (a *countingActivator) Activate(context.Context) error {
	a.calls.Add(1)
	return nil
}

type staticIdentity struct {
	h atomic.Pointer[identity.Handle]
}

func (s *staticIdentity) Current() *identity.Handle { return s.h.Load() }

type fixture struct {
	server    *Server
	store     database.Store
	out       *identitytest.Outbox
	activator *countingActivator
	engine    *broadcast.Engine
	webhook   atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, logger.Discard())

	f := &fixture{store: store, out: &identitytest.Outbox{}, activator: &countingActivator{}}
	ident := &staticIdentity{}
	ident.h.Store(identity.NewHandle(database.Persona{Name: "Anna"}, f.out, nil, nil))

	chat := config.ChatConfig{VIP: config.VIPConfig{Currency: "XTR"}, Messages: config.DefaultMessages}
	f.engine = broadcast.New(store, ident, config.BroadcastConfig{SendInterval: time.Millisecond}, chat, logger.Discard())
	t.Cleanup(func() { _ = f.engine.Shutdown(context.Background()) })

	f.server = NewServer(Deps{
		Config:    config.AdminConfig{Username: adminUser, Password: adminPass},
		Chat:      chat,
		Store:     store,
		Identity:  ident,
		Activator: f.activator,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			f.webhook.Add(1)
			w.WriteHeader(http.StatusOK)
		}),
		Broadcasts: f.engine,
		Logger:     logger.Discard(),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.SetBasicAuth(adminUser, adminPass)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", adminUser, "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", adminPass, true, http.StatusUnauthorized},
		{"valid", adminUser, adminPass, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPublicEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decodeBody[map[string]string](t, rec)["identity"])

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, f.webhook.Load())
}

func TestPersonaLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/admin/api/personas", `{"name":"Anna","system_prompt":"You are Anna.","telegram_token":"123:abc","ai_provider":"gemini"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]any](t, rec)
	assert.NotContains(t, created, "telegram_token")
	id := int64(created["id"].(float64))

	rec = f.do(t, http.MethodPost, "/admin/api/personas", `{"name":"Bad","system_prompt":"x","ai_provider":"cohere"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/api/personas/1/activate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.server.WaitActivations()
	assert.EqualValues(t, 1, f.activator.calls.Load())

	active, err := f.store.GetActivePersona(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)

	rec = f.do(t, http.MethodDelete, "/admin/api/personas/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/admin/api/personas/1", `{"name":"Anna B","system_prompt":"You are Anna B."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f.server.WaitActivations()
	assert.EqualValues(t, 2, f.activator.calls.Load())
	updated, err := f.store.GetPersona(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Anna B", updated.Name)
	assert.Equal(t, "123:abc", updated.TelegramToken)

	rec = f.do(t, http.MethodPost, "/admin/api/personas/deactivate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.server.WaitActivations()
	assert.EqualValues(t, 3, f.activator.calls.Load())

	rec = f.do(t, http.MethodDelete, "/admin/api/personas/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/api/personas/99/activate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersStatsMessagesAndCredits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.GetOrCreateUser(ctx, &database.User{TelegramID: 7, FullName: "Tom"})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveMessage(ctx, &database.Message{UserID: 7, Role: database.RoleUser, Content: "hi"}))
	require.NoError(t, f.store.SaveMessage(ctx, &database.Message{UserID: 7, Role: database.RoleAssistant, Content: "hello"}))

	rec := f.do(t, http.MethodGet, "/admin/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 1, stats["total_users"])
	assert.EqualValues(t, 0, stats["vip_users"])

	rec = f.do(t, http.MethodGet, "/admin/api/users/7/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody[[]database.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)

	rec = f.do(t, http.MethodPost, "/admin/api/users/7/credits", `{"amount":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decodeBody[database.User](t, rec).Credits)

	rec = f.do(t, http.MethodPost, "/admin/api/users/8/credits", `{"amount":5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/api/users/7/credits", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/api/media", `{"tag":"beach","name":"Beach set","content_ref":"file-1","kind":"photo","price":250}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/admin/api/media", `{"tag":"x","name":"x","content_ref":"f","kind":"audio","price":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/api/media", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]database.MediaContent](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/admin/api/media/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/admin/api/media/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomRequestQuoteAndReject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.GetOrCreateUser(ctx, &database.User{TelegramID: 7})
	require.NoError(t, err)
	first := &database.CustomRequest{UserID: 7, Description: "a song"}
	require.NoError(t, f.store.CreateCustomRequest(ctx, first))
	second := &database.CustomRequest{UserID: 7, Description: "a drawing"}
	require.NoError(t, f.store.CreateCustomRequest(ctx, second))

	rec := f.do(t, http.MethodGet, "/admin/api/custom-requests?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]database.CustomRequest](t, rec), 2)

	rec = f.do(t, http.MethodPost, "/admin/api/custom-requests/1/quote", `{"content_ref":"video-1","kind":"video","price":900}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["invoice_sent"])
	require.Len(t, f.out.Invoices, 1)
	assert.Equal(t, "custom_1", f.out.Invoices[0].Payload)
	assert.Equal(t, 900, f.out.Invoices[0].Prices[0].Amount)

	rec = f.do(t, http.MethodPost, "/admin/api/custom-requests/2/reject", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/admin/api/custom-requests/2/reject", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/api/custom-requests?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBroadcastLaunchAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := f.store.GetOrCreateUser(ctx, &database.User{TelegramID: id})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodPost, "/admin/api/broadcasts", `{"text":"News!","audience":"all"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := int64(decodeBody[map[string]any](t, rec)["id"].(float64))
	f.engine.Wait()

	rec = f.do(t, http.MethodGet, "/admin/api/broadcasts/"+strconv.FormatInt(id, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[database.Broadcast](t, rec)
	assert.Equal(t, database.BroadcastCompleted, b.Status)
	assert.Equal(t, 3, b.SentCount)

	rec = f.do(t, http.MethodPost, "/admin/api/broadcasts", `{"audience":"all"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/api/broadcasts", `{"text":"x","audience":"martians"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/api/broadcasts", `{"media_id":42}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
