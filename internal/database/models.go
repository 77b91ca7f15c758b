package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a lookup by primary key matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrPersonaActive is returned when deleting a persona that is still active.
	ErrPersonaActive = errors.New("persona is active; deactivate it first")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Media kinds.
const (
	MediaPhoto = "photo"
	MediaVideo = "video"
)

// CustomRequest statuses.
const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
	RequestRejected  = "rejected"
)

// Transaction statuses. A charge stays pending until what was bought has
// been delivered.
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
)

// Broadcast statuses and delivery outcomes.
const (
	BroadcastProcessing = "processing"
	BroadcastCompleted  = "completed"

	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Audience selectors for broadcasts.
const (
	AudienceAll    = "all"
	AudienceVIP    = "vip"
	AudienceNonVIP = "free"
)

// Persona is one configurable bot identity. At most one persona is active.
type Persona struct {
	ID            int64     `db:"id"             json:"id"`
	Name          string    `db:"name"           json:"name"`
	SystemPrompt  string    `db:"system_prompt"  json:"system_prompt"`
	TelegramToken string    `db:"telegram_token" json:"-"`
	AIProvider    string    `db:"ai_provider"    json:"ai_provider"`
	AIToken       string    `db:"ai_token"       json:"-"`
	AIModel       string    `db:"ai_model"       json:"ai_model"`
	IsActive      bool      `db:"is_active"      json:"is_active"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Facts is the free-form memory a user accumulates across conversations.
// It is stored as a JSON object in a TEXT column.
type Facts map[string]string

// Value implements driver.Valuer.
func (f Facts) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *Facts) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = Facts{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into Facts", src)
	}
	out := Facts{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("invalid facts json: %w", err)
		}
	}
	*f = out
	return nil
}

// String renders facts as "key: value, ..." sorted by key, or "Unknown".
func (f Facts) String() string {
	if len(f) == 0 {
		return "Unknown"
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, ", ")
}

// User is one chat participant, keyed by the Telegram user id.
type User struct {
	TelegramID int64        `db:"telegram_id" json:"telegram_id"`
	Username   string       `db:"username"    json:"username"`
	FullName   string       `db:"full_name"   json:"full_name"`
	Memory     Facts        `db:"memory"      json:"memory"`
	IsVIP      bool         `db:"is_vip"      json:"is_vip"`
	VIPUntil   sql.NullTime `db:"vip_until"   json:"-"`
	Credits    int          `db:"credits"     json:"credits"`
	CreatedAt  time.Time    `db:"created_at"  json:"created_at"`
}

// Message is an append-only conversation row.
type Message struct {
	ID               int64     `db:"id"                json:"id"`
	UserID           int64     `db:"user_id"           json:"user_id"`
	Role             string    `db:"role"              json:"role"`
	Content          string    `db:"content"           json:"content"`
	Model            string    `db:"model"             json:"model,omitempty"`
	PromptTokens     int       `db:"prompt_tokens"     json:"prompt_tokens,omitempty"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens,omitempty"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// MediaContent is a priced unlockable catalog item.
type MediaContent struct {
	ID         int64     `db:"id"          json:"id"`
	Tag        string    `db:"tag"         json:"tag"`
	Name       string    `db:"name"        json:"name"`
	ContentRef string    `db:"content_ref" json:"content_ref"`
	Kind       string    `db:"kind"        json:"kind"`
	Price      int       `db:"price"       json:"price"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// CustomRequest is a bespoke order captured from conversation.
type CustomRequest struct {
	ID          int64     `db:"id"          json:"id"`
	UserID      int64     `db:"user_id"     json:"user_id"`
	Description string    `db:"description" json:"description"`
	Status      string    `db:"status"      json:"status"`
	ContentRef  string    `db:"content_ref" json:"content_ref,omitempty"`
	Kind        string    `db:"kind"        json:"kind,omitempty"`
	Price       int       `db:"price"       json:"price,omitempty"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}

// Broadcast is one fan-out campaign.
type Broadcast struct {
	ID          int64         `db:"id"           json:"id"`
	Text        string        `db:"text"         json:"text"`
	MediaID     sql.NullInt64 `db:"media_id"     json:"-"`
	TargetCount int           `db:"target_count" json:"target_count"`
	SentCount   int           `db:"sent_count"   json:"sent_count"`
	FailCount   int           `db:"fail_count"   json:"fail_count"`
	Status      string        `db:"status"       json:"status"`
	CreatedAt   time.Time     `db:"created_at"   json:"created_at"`
	CompletedAt sql.NullTime  `db:"completed_at" json:"-"`
}

// BroadcastLog records one delivery attempt of a campaign to one recipient.
type BroadcastLog struct {
	ID          int64     `db:"id"           json:"id"`
	BroadcastID int64     `db:"broadcast_id" json:"broadcast_id"`
	UserID      int64     `db:"user_id"      json:"user_id"`
	Status      string    `db:"status"       json:"status"`
	Error       string    `db:"error"        json:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

// Transaction is a received payment, keyed by the provider's charge id.
type Transaction struct {
	ID        string    `db:"id"         json:"id"`
	UserID    int64     `db:"user_id"    json:"user_id"`
	Payload   string    `db:"payload"    json:"payload"`
	Amount    int       `db:"amount"     json:"amount"`
	Currency  string    `db:"currency"   json:"currency"`
	Provider  string    `db:"provider"   json:"provider"`
	Status    string    `db:"status"     json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
