// Package identitytest provides test doubles for identity.Sender.
package identitytest

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/mock"
)

// MockSender is a testify mock of identity.Sender. When a *Func field is set
// it is called instead of the mock expectations.
type MockSender struct {
	mock.Mock
	SendMessageFunc func(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

func (m *MockSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSender) AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

// Outbox is a recording Sender for tests that only care about what was sent.
type Outbox struct {
	mu       sync.Mutex
	Messages []*bot.SendMessageParams
	Invoices []*bot.SendInvoiceParams
	Photos   []*bot.SendPhotoParams
	Videos   []*bot.SendVideoParams
	Answers  []*bot.AnswerPreCheckoutQueryParams
	// FailFor makes SendMessage fail for the listed chat ids.
	FailFor map[int64]error
	// MediaErrors are returned, in order, by the next photo or video sends.
	MediaErrors []error
}

func (o *Outbox) nextMediaError() error {
	if len(o.MediaErrors) == 0 {
		return nil
	}
	err := o.MediaErrors[0]
	o.MediaErrors = o.MediaErrors[1:]
	return err
}

func (o *Outbox) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := params.ChatID.(int64); ok {
		if err := o.FailFor[id]; err != nil {
			return nil, err
		}
	}
	o.Messages = append(o.Messages, params)
	return &models.Message{ID: len(o.Messages)}, nil
}

func (o *Outbox) SendInvoice(_ context.Context, params *bot.SendInvoiceParams) (*models.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Invoices = append(o.Invoices, params)
	return &models.Message{}, nil
}

func (o *Outbox) SendPhoto(_ context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.nextMediaError(); err != nil {
		return nil, err
	}
	o.Photos = append(o.Photos, params)
	return &models.Message{}, nil
}

func (o *Outbox) SendVideo(_ context.Context, params *bot.SendVideoParams) (*models.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.nextMediaError(); err != nil {
		return nil, err
	}
	o.Videos = append(o.Videos, params)
	return &models.Message{}, nil
}

func (o *Outbox) AnswerPreCheckoutQuery(_ context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Answers = append(o.Answers, params)
	return true, nil
}

// Texts returns the text of every sent message in order.
func (o *Outbox) Texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.Messages))
	for _, m := range o.Messages {
		out = append(out, m.Text)
	}
	return out
}
