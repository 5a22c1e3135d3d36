// Package notification delivers user-facing messages about settlement
// decisions. Delivery is fire-and-forget: a failed send is logged and never
// surfaces to the caller that triggered it.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/events"
	"github.com/playgroundx/settlement/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TemplateRefundDecided     = "refund_decided"
	TemplateBankReviewDecided = "bank_review_decided"
	TemplatePayoutPaid        = "payout_paid"
	TemplateIntegrityAlert    = "integrity_alert"
)

const defaultSendTimeout = 10 * time.Second

type Notification struct {
	UserID   string
	Email    string
	Template string
	Data     map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Publisher events.Publisher
	Email     email.Provider `optional:"true"`
	Clock     clock.Clock    `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	publisher   events.Publisher
	email       email.Provider
	topic       string
	clock       clock.Clock
	sendTimeout time.Duration

	wg sync.WaitGroup
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		log:         p.Log.Named("notification.service"),
		publisher:   p.Publisher,
		email:       p.Email,
		topic:       p.Cfg.Kafka.NotificationTopic,
		clock:       clk,
		sendTimeout: defaultSendTimeout,
	}
}

// Notify schedules delivery and returns immediately. The caller's
// cancellation does not abort a delivery already scheduled.
func (s *Service) Notify(ctx context.Context, n Notification) {
	if strings.TrimSpace(n.UserID) == "" && strings.TrimSpace(n.Email) == "" {
		s.log.Warn("notification dropped, no recipient", zap.String("template", n.Template))
		return
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, s.sendTimeout)
		defer cancel()
		s.deliver(sendCtx, n)
	}()
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	log := s.log.With(zap.String("user_id", n.UserID), zap.String("template", n.Template))

	if s.publisher != nil && s.topic != "" {
		payload, err := json.Marshal(map[string]any{
			"user_id":  n.UserID,
			"template": n.Template,
			"data":     n.Data,
			"sent_at":  s.clock.Now().UTC(),
		})
		if err != nil {
			log.Error("failed to encode notification", zap.Error(err))
			return
		}
		key := n.UserID
		if key == "" {
			key = n.Email
		}
		if err := s.publisher.Publish(ctx, s.topic, key, payload); err != nil {
			log.Warn("failed to publish notification", zap.Error(err))
		}
	}

	if s.email != nil && n.Email != "" {
		if err := s.email.SendTemplate(ctx, []string{n.Email}, n.Template, n.Data); err != nil {
			log.Warn("failed to send notification email", zap.Error(err))
		}
	}
}

// Wait blocks until every scheduled delivery has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close waits for in-flight deliveries or gives up when ctx ends.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatAmount renders minor units with two decimals.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// FriendlyMessage turns an error code into the text shown to fans.
func FriendlyMessage(code string) string {
	switch code {
	case "approved":
		return "Your request was approved."
	case "declined", "rejected":
		return "Your request was not approved."
	case "clawback_required":
		return "Your request is being reviewed by our finance team."
	default:
		return "Your request is being processed."
	}
}
