package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playgroundx/settlement/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (p *mockPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := p.Called(ctx, topic, key, payload)
	return args.Error(0)
}

func (p *mockPublisher) Close() error { return nil }

// acceptAll lets any publish through and returns nil.
func acceptAll() *mockPublisher {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return pub
}

type fakeEmail struct {
	mu        sync.Mutex
	templates []string
	to        [][]string
	block     chan struct{}
}

func (e *fakeEmail) Send(context.Context, []string, string, string) error { return nil }

func (e *fakeEmail) SendTemplate(ctx context.Context, to []string, templateName string, _ map[string]any) error {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = append(e.templates, templateName)
	e.to = append(e.to, to)
	return nil
}

func newService(pub *mockPublisher, mail *fakeEmail) *Service {
	p := Params{
		Cfg:       config.Config{Kafka: config.KafkaConfig{NotificationTopic: "notifications"}},
		Log:       zap.NewNop(),
		Publisher: pub,
	}
	if mail != nil {
		p.Email = mail
	}
	return NewService(p)
}

func TestNotifyPublishesAndEmails(t *testing.T) {
	var payload []byte
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "notifications", "fan-1", mock.Anything).
		Run(func(args mock.Arguments) { payload = args.Get(3).([]byte) }).
		Return(nil).
		Once()
	mail := &fakeEmail{}
	svc := newService(pub, mail)

	svc.Notify(context.Background(), Notification{
		UserID:   "fan-1",
		Email:    "fan@example.com",
		Template: TemplateBankReviewDecided,
		Data:     map[string]any{"decision": "rejected", "reason": "illegible receipt"},
	})
	svc.Wait()

	pub.AssertExpectations(t)

	var body map[string]any
	require.NoError(t, json.Unmarshal(payload, &body))
	assert.Equal(t, TemplateBankReviewDecided, body["template"])
	assert.Equal(t, "illegible receipt", body["data"].(map[string]any)["reason"])

	assert.Equal(t, []string{TemplateBankReviewDecided}, mail.templates)
	assert.Equal(t, [][]string{{"fan@example.com"}}, mail.to)
}

func TestNotifyIgnoresPublishFailure(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, "fan-1", mock.Anything).Return(errors.New("broker down")).Once()
	mail := &fakeEmail{}
	svc := newService(pub, mail)

	svc.Notify(context.Background(), Notification{UserID: "fan-1", Email: "fan@example.com", Template: TemplateRefundDecided})
	svc.Wait()

	pub.AssertExpectations(t)
	assert.Len(t, mail.templates, 1)
}

func TestNotifySurvivesCallerCancellation(t *testing.T) {
	pub := acceptAll()
	svc := newService(pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Notify(ctx, Notification{UserID: "creator-1", Template: TemplatePayoutPaid})
	cancel()
	svc.Wait()

	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNotifyWithoutRecipientIsDropped(t *testing.T) {
	pub := &mockPublisher{}
	svc := newService(pub, nil)

	svc.Notify(context.Background(), Notification{Template: TemplatePayoutPaid})
	svc.Wait()

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseHonoursDeadline(t *testing.T) {
	mail := &fakeEmail{block: make(chan struct{})}
	svc := newService(acceptAll(), mail)

	svc.Notify(context.Background(), Notification{UserID: "fan-1", Email: "fan@example.com", Template: TemplateRefundDecided})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Close(ctx), context.DeadlineExceeded)

	close(mail.block)
	assert.NoError(t, svc.Close(context.Background()))
}
