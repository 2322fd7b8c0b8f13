package notify

import (
	"context"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"villaops/internal/config"
	"villaops/internal/database"
	"villaops/internal/domain"
	"villaops/internal/models"
	"villaops/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu  sync.Mutex
	got []models.Delivery
}

func (q *recordingQueue) Enqueue(_ context.Context, d models.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.got = append(q.got, d)
	return nil
}

func setup(t *testing.T) (*database.DB, *zerolog.Logger) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, &logger
}

func activation() *models.Notification {
	return &models.Notification{
		ID:               "task-activated:t-clean:s-clean",
		RecipientID:      "s-clean",
		Title:            "New task: Turnover cleaning",
		Message:          "Turnover cleaning at Villa Azure is ready for you.",
		Channels:         []models.Channel{models.ChannelInApp, models.ChannelPush},
		Priority:         models.PriorityHigh,
		RelatedTaskID:    "t-clean",
		RelatedBookingID: "b1",
	}
}

func TestGateway_DispatchIsIdempotent(t *testing.T) {
	db, logger := setup(t)
	ctx := context.Background()
	queue := &recordingQueue{}
	gw := NewGateway(db, repository.NewMemoryDedupeStore(), queue, 0, logger)

	require.NoError(t, gw.Dispatch(ctx, activation()))
	require.NoError(t, gw.Dispatch(ctx, activation()))

	require.Len(t, queue.got, 2)
	assert.Equal(t, models.ChannelInApp, queue.got[0].Channel)
	assert.Equal(t, models.ChannelPush, queue.got[1].Channel)

	pending, err := db.GetPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	stored, err := db.GetNotification(ctx, activation().ID)
	require.NoError(t, err)
	assert.Equal(t, "s-clean", stored.RecipientID)
}

func TestGateway_OutboxCatchesDuplicatesWithoutDedupe(t *testing.T) {
	db, logger := setup(t)
	ctx := context.Background()
	queue := &recordingQueue{}

	// Two instances each with their own in-process dedupe store.
	require.NoError(t, NewGateway(db, repository.NewMemoryDedupeStore(), queue, 0, logger).Dispatch(ctx, activation()))
	require.NoError(t, NewGateway(db, repository.NewMemoryDedupeStore(), queue, 0, logger).Dispatch(ctx, activation()))
	require.NoError(t, NewGateway(db, nil, queue, 0, logger).Dispatch(ctx, activation()))

	assert.Len(t, queue.got, 2)
}

type brokenDedupe struct{}

func (brokenDedupe) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenDedupe) Release(context.Context, string) error { return nil }

func TestGateway_DedupeOutageStillDelivers(t *testing.T) {
	db, logger := setup(t)
	queue := &recordingQueue{}
	require.NoError(t, NewGateway(db, brokenDedupe{}, queue, 0, logger).Dispatch(context.Background(), activation()))
	assert.Len(t, queue.got, 2)
}

type failingStore struct {
	*database.DB
}

func (failingStore) CreateNotification(context.Context, *models.Notification) error {
	return &domain.TransientStoreError{Op: "create notification", Err: errors.New("database is locked")}
}

func TestGateway_PersistFailureReleasesClaim(t *testing.T) {
	db, logger := setup(t)
	ctx := context.Background()
	dedupe := repository.NewMemoryDedupeStore()

	err := NewGateway(failingStore{db}, dedupe, nil, 0, logger).Dispatch(ctx, activation())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	// A later retry is not mistaken for a duplicate.
	queue := &recordingQueue{}
	require.NoError(t, NewGateway(db, dedupe, queue, 0, logger).Dispatch(ctx, activation()))
	assert.Len(t, queue.got, 2)
}

func TestGateway_Validation(t *testing.T) {
	db, logger := setup(t)
	gw := NewGateway(db, nil, nil, 0, logger)

	tests := map[string]func(n *models.Notification){
		"MissingID":        func(n *models.Notification) { n.ID = "" },
		"MissingRecipient": func(n *models.Notification) { n.RecipientID = "" },
		"NoChannels":       func(n *models.Notification) { n.Channels = nil },
		"UnknownChannel":   func(n *models.Notification) { n.Channels = []models.Channel{"sms"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			n := activation()
			mutate(n)
			assert.True(t, domain.IsValidation(gw.Dispatch(context.Background(), n)))
		})
	}
	assert.True(t, domain.IsValidation(gw.Dispatch(context.Background(), nil)))
}

type mockBot struct {
	mock.Mock
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func seedStaff(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.UpsertStaff(ctx, &models.Staff{
		ID: "s-clean", Name: "Made", Available: true, TelegramChatID: 4242, Email: "made@villa.example",
	}))
	require.NoError(t, db.UpsertStaff(ctx, &models.Staff{ID: "s-quiet", Name: "Putu", Available: true}))
}

func TestTelegramSender(t *testing.T) {
	db, _ := setup(t)
	seedStaff(t, db)
	ctx := context.Background()

	bot := &mockBot{}
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 4242 && strings.Contains(msg.Text, "Villa Azure")
	})).Return(nil).Once()

	sender := NewTelegramSender(bot, db)
	assert.Equal(t, models.ChannelPush, sender.Channel())
	require.NoError(t, sender.Send(ctx, activation()))
	bot.AssertExpectations(t)

	quiet := activation()
	quiet.RecipientID = "s-quiet"
	assert.ErrorIs(t, sender.Send(ctx, quiet), domain.ErrUnreachable)

	unknown := activation()
	unknown.RecipientID = "ghost"
	assert.ErrorIs(t, sender.Send(ctx, unknown), domain.ErrUnreachable)

	bot.On("Send", mock.Anything).Return(errors.New("429 too many requests")).Once()
	err := sender.Send(ctx, activation())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnreachable)
}

func TestEmailSender(t *testing.T) {
	db, _ := setup(t)
	seedStaff(t, db)
	ctx := context.Background()

	sender := NewEmailSender(config.SMTPConfig{Host: "smtp.villa.example", Username: "ops", Password: "pw", From: "ops@villa.example"}, db)
	assert.Equal(t, models.ChannelEmail, sender.Channel())

	var gotAddr string
	var gotTo []string
	var gotMsg string
	sender.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	n := activation()
	n.Priority = models.PriorityUrgent
	require.NoError(t, sender.Send(ctx, n))
	assert.Equal(t, "smtp.villa.example:587", gotAddr)
	assert.Equal(t, []string{"made@villa.example"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: New task: Turnover cleaning\r\n")
	assert.Contains(t, gotMsg, "X-Priority: 1")
	assert.True(t, strings.HasSuffix(gotMsg, n.Message+"\r\n"))

	quiet := activation()
	quiet.RecipientID = "s-quiet"
	assert.ErrorIs(t, sender.Send(ctx, quiet), domain.ErrUnreachable)

	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	assert.Error(t, sender.Send(ctx, activation()))
}

func TestInAppSender(t *testing.T) {
	db, logger := setup(t)
	ctx := context.Background()
	require.NoError(t, NewGateway(db, nil, nil, 0, logger).Dispatch(ctx, activation()))

	sender := NewInAppSender(db)
	require.NoError(t, sender.Send(ctx, activation()))

	missing := activation()
	missing.ID = "nope"
	assert.ErrorIs(t, sender.Send(ctx, missing), domain.ErrNotFound)
}

func TestBuildMail_StripsHeaderInjection(t *testing.T) {
	n := activation()
	n.Title = "Hello\r\nBcc: evil@example.com"
	msg := string(buildMail("ops@villa.example", "made@villa.example", n))
	assert.NotContains(t, msg, "\r\nBcc:")
}
