package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/logger"
)

// fakeAPI records the Bot API methods called against it.
type fakeAPI struct {
	mu      sync.Mutex
	methods []string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	w.Header().Set("Content-Type", "application/json")
	if method == "getUpdates" {
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		return
	}
	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.mu.Unlock()
	_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func noopHandler(context.Context, *bot.Bot, *models.Update) {}

func TestOpen_WebhookRegistersAndDeregisters(t *testing.T) {
	t.Parallel()

	api, url := newFakeAPI(t)
	f := NewSessionFactory(config.TelegramConfig{
		Mode:       ModeWebhook,
		WebhookURL: "https://bot.example.com/webhook",
	}, noopHandler, logger.Discard(), bot.WithServerURL(url), bot.WithSkipGetMe())

	h, err := f.Open(context.Background(), database.Persona{ID: 1, Name: "Anna"}, "123:abc")
	require.NoError(t, err)
	require.NotNil(t, h.Inbound)
	require.NotNil(t, h.Sender)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id":1}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "not-the-secret")
	h.Inbound.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, []string{"setWebhook", "deleteWebhook"}, api.calls())
}

func TestOpen_PollingClearsWebhookAndStops(t *testing.T) {
	t.Parallel()

	api, url := newFakeAPI(t)
	f := NewSessionFactory(config.TelegramConfig{Mode: ModePolling}, noopHandler, logger.Discard(),
		bot.WithServerURL(url), bot.WithSkipGetMe())

	h, err := f.Open(context.Background(), database.Persona{ID: 1, Name: "Anna"}, "123:abc")
	require.NoError(t, err)
	assert.Nil(t, h.Inbound)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, []string{"deleteWebhook"}, api.calls())
}

func TestNewTelegramBot_EmptyToken(t *testing.T) {
	t.Parallel()

	_, err := NewTelegramBot("", logger.Discard())
	assert.Error(t, err)
}
