package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/notification"
	"github.com/playgroundx/settlement/internal/providers/pdf"
)

var ErrStatementUnavailable = errors.New("statement_renderer_unavailable")

const statementDateLayout = "2006-01-02"

// Statement renders the remittance PDF for a batch, listing every event the
// batch still holds.
func (s *Service) Statement(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	if s.pdf == nil {
		return nil, ErrStatementUnavailable
	}
	batch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	data := pdf.StatementData{
		PlatformName:   "PlayGroundX",
		BatchID:        batch.ID.String(),
		CreatorID:      batch.CreatorID,
		Status:         string(batch.Status),
		Currency:       batch.Currency,
		Period:         period(batch.PeriodStart, batch.PeriodEnd),
		IssuedAt:       s.clock.Now().UTC().Format(statementDateLayout),
		Gross:          notification.FormatAmount(batch.Gross),
		PlatformEarned: notification.FormatAmount(batch.PlatformEarned),
		CreatorEarned:  notification.FormatAmount(batch.CreatorEarned),
	}
	if batch.ClawbackRequired {
		data.Clawback = notification.FormatAmount(batch.ClawbackAmount)
	}

	for _, item := range items {
		if item.ReleasedAt != nil {
			continue
		}
		line := pdf.StatementLine{
			EventID: item.EventID.String(),
			Gross:   notification.FormatAmount(item.GrossAmount),
			Fee:     notification.FormatAmount(item.PlatformShare),
			Net:     notification.FormatAmount(item.CreatorShare),
		}
		if event, err := s.ledger.GetEvent(ctx, item.EventID); err == nil {
			line.Type = string(event.Type)
			line.OccurredAt = event.OccurredAt.UTC().Format(statementDateLayout)
		}
		data.Lines = append(data.Lines, line)
	}

	return s.pdf.GenerateStatement(ctx, data)
}

func period(start *time.Time, end time.Time) string {
	if start == nil {
		return "until " + end.UTC().Format(statementDateLayout)
	}
	return start.UTC().Format(statementDateLayout) + " to " + end.UTC().Format(statementDateLayout)
}
