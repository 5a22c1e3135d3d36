package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a payout remittance statement. Amounts are pre-formatted.
type StatementData struct {
	PlatformName string
	BatchID      string
	CreatorID    string
	Status       string
	Currency     string
	Period       string
	IssuedAt     string

	Gross          string
	PlatformEarned string
	CreatorEarned  string
	Clawback       string

	Lines []StatementLine
}

type StatementLine struct {
	EventID    string
	OccurredAt string
	Type       string
	Gross      string
	Fee        string
	Net        string
}

var ErrEmptyStatement = errors.New("statement has no batch")

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if data.BatchID == "" {
		return nil, ErrEmptyStatement
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.PlatformName, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New("Batch: "+data.BatchID, props.Text{Top: 0}),
			text.New("Creator: "+data.CreatorID, props.Text{Top: 4}),
			text.New("Period: "+data.Period, props.Text{Top: 8}),
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Status: "+data.Status, props.Text{Align: align.Right}),
			text.New("Currency: "+data.Currency, props.Text{Top: 4, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Event", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Type", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Gross", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "Fee", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Net", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(7,
			text.NewCol(3, line.EventID, props.Text{Size: 8}),
			text.NewCol(3, line.OccurredAt, props.Text{Size: 8}),
			text.NewCol(2, line.Type, props.Text{Size: 8}),
			text.NewCol(1, line.Gross, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(1, line.Fee, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, line.Net, props.Text{Size: 8, Align: align.Right}),
		)
	}

	totals := []struct{ label, value string }{
		{"Gross", data.Gross},
		{"Platform fees", data.PlatformEarned},
		{"Paid to creator", data.CreatorEarned},
	}
	if data.Clawback != "" {
		totals = append(totals, struct{ label, value string }{"Pending clawback", data.Clawback})
	}
	for _, total := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, total.label, props.Text{Size: 9}),
			text.NewCol(2, total.value, props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate statement: %w", err)
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
