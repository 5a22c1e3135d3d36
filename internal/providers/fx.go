package providers

import (
	"github.com/playgroundx/settlement/internal/providers/email"
	"github.com/playgroundx/settlement/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module groups the outbound renderers: SMTP mail for notifications and PDF
// payout statements.
var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
