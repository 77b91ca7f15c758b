package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

func TestNewDB_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := NewDB("mysql", "whatever")
	assert.Error(t, err)
}

func TestFacts_ScanValue(t *testing.T) {
	t.Parallel()

	f := Facts{"name": "Anna", "city": "Kraków"}
	v, err := f.Value()
	require.NoError(t, err)

	var out Facts
	require.NoError(t, out.Scan(v))
	assert.Equal(t, f, out)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)

	assert.Error(t, out.Scan(42))
}

func TestFacts_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Unknown", Facts{}.String())
	assert.Equal(t, "age: 30, name: Anna", Facts{"name": "Anna", "age": "30"}.String())
}

func TestPersonas_SingleActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	active, err := s.GetActivePersona(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	a := &Persona{Name: "Alice", SystemPrompt: "be alice"}
	b := &Persona{Name: "Bella", SystemPrompt: "be bella", TelegramToken: "123:abc"}
	require.NoError(t, s.CreatePersona(ctx, a))
	require.NoError(t, s.CreatePersona(ctx, b))

	require.NoError(t, s.ActivatePersona(ctx, a.ID))
	require.NoError(t, s.ActivatePersona(ctx, b.ID))

	active, err = s.GetActivePersona(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)
	assert.Equal(t, "123:abc", active.TelegramToken)

	personas, err := s.ListPersonas(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range personas {
		if p.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	assert.ErrorIs(t, s.DeletePersona(ctx, b.ID), ErrPersonaActive)
	assert.ErrorIs(t, s.ActivatePersona(ctx, 9999), ErrNotFound)

	// A failed activation must not leave the system without its previous persona.
	active, err = s.GetActivePersona(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)

	require.NoError(t, s.DeactivatePersonas(ctx))
	require.NoError(t, s.DeletePersona(ctx, b.ID))
	_, err = s.GetPersona(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_GetOrCreateAndMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.GetOrCreateUser(ctx, &User{TelegramID: 42, Username: "anna", FullName: "anna"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.TelegramID)
	assert.Empty(t, u.Memory)
	assert.False(t, u.IsVIP)

	// Second call keeps the stored row.
	u, err = s.GetOrCreateUser(ctx, &User{TelegramID: 42, FullName: "someone else"})
	require.NoError(t, err)
	assert.Equal(t, "anna", u.FullName)

	require.NoError(t, s.UpdateUserMemory(ctx, 42, Facts{"name": "Anna"}))
	u, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, Facts{"name": "Anna"}, u.Memory)

	u, err = s.AddCredits(ctx, 42, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, u.Credits)

	_, err = s.AddCredits(ctx, 7, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_VIPLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []int64{1, 2, 3} {
		_, err := s.GetOrCreateUser(ctx, &User{TelegramID: id, FullName: "u"})
		require.NoError(t, err)
	}

	require.NoError(t, s.GrantVIP(ctx, 1, 30*24*time.Hour))
	require.NoError(t, s.GrantVIP(ctx, 2, 0))

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.IsVIP)
	require.True(t, u.VIPUntil.Valid)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), u.VIPUntil.Time, time.Minute)

	// Extending stacks on top of the remaining time.
	require.NoError(t, s.GrantVIP(ctx, 1, 24*time.Hour))
	u, err = s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(31*24*time.Hour), u.VIPUntil.Time, time.Minute)

	total, vip, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, vip)

	ids, err := s.ListUserIDs(ctx, AudienceNonVIP)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)

	n, err := s.ExpireVIP(ctx, time.Now().Add(40*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err = s.ListUserIDs(ctx, AudienceVIP)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	_, err = s.ListUserIDs(ctx, "martians")
	assert.Error(t, err)
}

func TestMessages_HistoryOrderAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetOrCreateUser(ctx, &User{TelegramID: 5, FullName: "u"})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, s.SaveMessage(ctx, &Message{UserID: 5, Role: role, Content: string(rune('a' + i%26))}))
	}

	n, err := s.CountUserMessages(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	history, err := s.GetRecentMessages(ctx, 5, 20)
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i := 1; i < len(history); i++ {
		assert.Less(t, history[i-1].ID, history[i].ID)
	}

	assert.Error(t, s.SaveMessage(ctx, &Message{UserID: 5, Role: "system", Content: "x"}))
	assert.Error(t, s.SaveMessage(ctx, &Message{UserID: 5, Role: RoleUser}))
}

func TestCatalogAndCustomRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	m := &MediaContent{Tag: "Shower_Video", Name: "Shower", ContentRef: "file-1", Kind: MediaVideo, Price: 250}
	require.NoError(t, s.CreateMedia(ctx, m))

	got, err := s.GetMediaByTag(ctx, "SHOWER_VIDEO")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.GetMediaByTag(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.CreateMedia(ctx, &MediaContent{Tag: "x", ContentRef: "f", Kind: "audio", Price: 1}))

	_, err = s.GetOrCreateUser(ctx, &User{TelegramID: 9, FullName: "u"})
	require.NoError(t, err)
	r := &CustomRequest{UserID: 9, Description: "a song with my name"}
	require.NoError(t, s.CreateCustomRequest(ctx, r))
	assert.Equal(t, RequestPending, r.Status)

	require.NoError(t, s.QuoteCustomRequest(ctx, r.ID, "file-2", MediaPhoto, 500))
	require.NoError(t, s.SetCustomRequestStatus(ctx, r.ID, RequestFulfilled))

	got2, err := s.GetCustomRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestFulfilled, got2.Status)
	assert.Equal(t, "file-2", got2.ContentRef)

	// Terminal requests cannot move again.
	assert.ErrorIs(t, s.SetCustomRequestStatus(ctx, r.ID, RequestRejected), ErrNotFound)

	pending, err := s.ListCustomRequests(ctx, RequestPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBroadcastsAndLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	b := &Broadcast{Text: "hi all", TargetCount: 2}
	require.NoError(t, s.CreateBroadcast(ctx, b))
	assert.Equal(t, BroadcastProcessing, b.Status)

	require.NoError(t, s.SaveBroadcastLog(ctx, &BroadcastLog{BroadcastID: b.ID, UserID: 1, Status: DeliverySent}))
	require.NoError(t, s.SaveBroadcastLog(ctx, &BroadcastLog{BroadcastID: b.ID, UserID: 2, Status: DeliveryFailed, Error: "blocked"}))
	// Write-once per recipient.
	assert.Error(t, s.SaveBroadcastLog(ctx, &BroadcastLog{BroadcastID: b.ID, UserID: 2, Status: DeliverySent}))

	require.NoError(t, s.CompleteBroadcast(ctx, b.ID, 1, 1))
	got, err := s.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BroadcastCompleted, got.Status)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 1, got.FailCount)
	assert.True(t, got.CompletedAt.Valid)
	assert.Equal(t, sql.NullInt64{}, got.MediaID)

	logs, err := s.ListBroadcastLogs(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRecordTransaction_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	tx := &Transaction{ID: "charge-1", UserID: 1, Payload: "vip_30_days", Amount: 500, Currency: "XTR", Provider: "telegram_stars"}
	created, err := s.RecordTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RecordTransaction(ctx, tx)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetTransaction(ctx, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, got.Status)
	assert.Equal(t, int64(1), got.UserID)

	require.NoError(t, s.CompleteTransaction(ctx, "charge-1"))
	got, err = s.GetTransaction(ctx, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, got.Status)

	_, err = s.GetTransaction(ctx, "charge-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CompleteTransaction(ctx, "charge-missing"), ErrNotFound)
}

func TestRunSQLMaintenance(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	assert.NoError(t, s.RunSQLMaintenance(context.Background()))
}
