package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStatement(t *testing.T) {
	reader, err := New().GenerateStatement(context.Background(), StatementData{
		PlatformName:   "PlayGroundX",
		BatchID:        "123",
		CreatorID:      "creator-1",
		Status:         "paid",
		Currency:       "USD",
		Gross:          "500.00",
		PlatformEarned: "50.00",
		CreatorEarned:  "450.00",
		Lines: []StatementLine{
			{EventID: "1", Type: "tip", Gross: "500.00", Fee: "50.00", Net: "450.00"},
		},
	})
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body[:4]))
}

func TestGenerateStatementRequiresBatch(t *testing.T) {
	_, err := New().GenerateStatement(context.Background(), StatementData{})
	assert.ErrorIs(t, err, ErrEmptyStatement)
}
