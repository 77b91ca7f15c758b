package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity/identitytest"
)

type fakeSource struct {
	mu      sync.Mutex
	persona *database.Persona
	err     error
}

func (s *fakeSource) set(p *database.Persona, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona, s.err = p, err
}

func (s *fakeSource) GetActivePersona(context.Context) (*database.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.persona == nil {
		return nil, nil
	}
	p := *s.persona
	return &p, nil
}

// fakeFactory tracks live route registrations the way Telegram would see them.
type fakeFactory struct {
	live    atomic.Int32
	opens   atomic.Int32
	closes  atomic.Int32
	maxLive atomic.Int32

	mu         sync.Mutex
	tokens     []string
	liveAtOpen []int32
	failNext   error
	closeErr   error
}

func (f *fakeFactory) Open(_ context.Context, persona database.Persona, token string) (*Handle, error) {
	f.mu.Lock()
	f.liveAtOpen = append(f.liveAtOpen, f.live.Load())
	f.tokens = append(f.tokens, token)
	err := f.failNext
	f.failNext = nil
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.opens.Add(1)
	if n := f.live.Add(1); n > f.maxLive.Load() {
		f.maxLive.Store(n)
	}
	inbound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Persona", persona.Name)
		w.WriteHeader(http.StatusAccepted)
	})
	return NewHandle(persona, &identitytest.Outbox{}, inbound, func(context.Context) error {
		f.live.Add(-1)
		f.closes.Add(1)
		return f.closeErr
	}), nil
}

func newTestManager(src *fakeSource, f *fakeFactory, defaultToken string) *Manager {
	return NewManager(src, f, defaultToken, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestActivate_PublishesPersonaHandle(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "anna-token"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "default-token")

	require.Nil(t, m.Current())
	require.NoError(t, m.Activate(context.Background()))

	h := m.Current()
	require.NotNil(t, h)
	assert.Equal(t, "Anna", h.Persona.Name)
	assert.NotNil(t, h.Sender)
	assert.Equal(t, []string{"anna-token"}, f.tokens)
}

func TestActivate_FallsBackToDefaultToken(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "default-token")

	require.NoError(t, m.Activate(context.Background()))
	assert.Equal(t, []string{"default-token"}, f.tokens)
}

func TestActivate_NoCredential(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna"}}
	m := newTestManager(src, &fakeFactory{}, "")

	assert.ErrorIs(t, m.Activate(context.Background()), ErrNoCredential)
	assert.Nil(t, m.Current())
}

func TestActivate_SwapTearsDownBeforeOpening(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	ctx := context.Background()

	require.NoError(t, m.Activate(ctx))
	src.set(&database.Persona{ID: 2, Name: "Bella", TelegramToken: "b"}, nil)
	require.NoError(t, m.Activate(ctx))

	assert.Equal(t, "Bella", m.Current().Persona.Name)
	assert.Equal(t, []int32{0, 0}, f.liveAtOpen)
	assert.EqualValues(t, 1, f.maxLive.Load())
	assert.EqualValues(t, 1, f.closes.Load())
}

func TestActivate_DeactivateReactivateRoundTrip(t *testing.T) {
	t.Parallel()

	anna := &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}
	src := &fakeSource{persona: anna}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	ctx := context.Background()

	require.NoError(t, m.Activate(ctx))
	src.set(nil, nil)
	require.NoError(t, m.Activate(ctx))
	assert.Nil(t, m.Current())
	assert.EqualValues(t, 0, f.live.Load())

	src.set(anna, nil)
	require.NoError(t, m.Activate(ctx))
	require.NoError(t, m.Activate(ctx))

	assert.NotNil(t, m.Current())
	assert.EqualValues(t, 1, f.live.Load(), "exactly one route registered")
	assert.EqualValues(t, f.opens.Load()-1, f.closes.Load())
}

func TestActivate_ReadFailureKeepsCurrent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	ctx := context.Background()
	require.NoError(t, m.Activate(ctx))
	before := m.Current()

	src.set(nil, errors.New("db down"))
	require.Error(t, m.Activate(ctx))

	assert.Same(t, before, m.Current())
	assert.EqualValues(t, 0, f.closes.Load())
}

func TestActivate_ConstructionFailureLeavesOffline(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	ctx := context.Background()
	require.NoError(t, m.Activate(ctx))

	f.failNext = errors.New("unauthorized")
	require.Error(t, m.Activate(ctx))
	assert.Nil(t, m.Current())
	assert.EqualValues(t, 0, f.live.Load())

	require.NoError(t, m.Activate(ctx))
	assert.NotNil(t, m.Current())
}

func TestActivate_TeardownErrorIsNotPropagated(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{closeErr: errors.New("deleteWebhook failed")}
	m := newTestManager(src, f, "")
	ctx := context.Background()

	require.NoError(t, m.Activate(ctx))
	require.NoError(t, m.Activate(ctx))
	assert.NotNil(t, m.Current())
}

func TestActivate_ConcurrentReadersSeeWholeHandles(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if h := m.Current(); h != nil {
					assert.NotNil(t, h.Sender)
					assert.NotEmpty(t, h.Persona.Name)
				}
			}
		}()
	}

	var activations sync.WaitGroup
	for i := 0; i < 20; i++ {
		activations.Add(1)
		go func() {
			defer activations.Done()
			_ = m.Activate(ctx)
		}()
	}
	activations.Wait()
	close(stop)
	wg.Wait()

	assert.EqualValues(t, 1, f.maxLive.Load())
	assert.EqualValues(t, 1, f.live.Load())
}

func TestShutdown_RetiresHandle(t *testing.T) {
	t.Parallel()

	src := &fakeSource{persona: &database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")
	require.NoError(t, m.Activate(context.Background()))

	m.Shutdown(context.Background())
	assert.Nil(t, m.Current())
	assert.EqualValues(t, 0, f.live.Load())
}

func TestServeHTTP_ForwardsToLiveHandle(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	f := &fakeFactory{}
	m := newTestManager(src, f, "")

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	src.set(&database.Persona{ID: 1, Name: "Anna", TelegramToken: "a"}, nil)
	require.NoError(t, m.Activate(context.Background()))

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Anna", rec.Header().Get("X-Persona"))
}
