// Package bootstrap groups the fx modules every settlement binary shares.
package bootstrap

import (
	"github.com/bwmarrin/snowflake"
	"github.com/playgroundx/settlement/internal/alert"
	"github.com/playgroundx/settlement/internal/apikey"
	"github.com/playgroundx/settlement/internal/audit"
	"github.com/playgroundx/settlement/internal/authorization"
	"github.com/playgroundx/settlement/internal/bankreview"
	"github.com/playgroundx/settlement/internal/clock"
	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/events"
	"github.com/playgroundx/settlement/internal/fee"
	"github.com/playgroundx/settlement/internal/idempotency"
	"github.com/playgroundx/settlement/internal/ingress"
	"github.com/playgroundx/settlement/internal/ledger"
	"github.com/playgroundx/settlement/internal/notification"
	"github.com/playgroundx/settlement/internal/observability"
	"github.com/playgroundx/settlement/internal/payment"
	"github.com/playgroundx/settlement/internal/paymentprovider"
	"github.com/playgroundx/settlement/internal/payout"
	"github.com/playgroundx/settlement/internal/providers"
	"github.com/playgroundx/settlement/internal/ratelimit"
	"github.com/playgroundx/settlement/internal/refund"
	"github.com/playgroundx/settlement/pkg/db"
	"go.uber.org/fx"
)

// Infrastructure is config, logging, tracing, metrics, ids, clock and the database.
var Infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	clock.Module,
)

// Settlement is every domain service: ledger, refunds, payouts, bank review
// and the gateway integrations around them.
var Settlement = fx.Options(
	audit.Module,
	alert.Module,
	authorization.Module,
	events.Module,
	ratelimit.Module,
	providers.Module,
	notification.Module,
	fee.Module,
	idempotency.Module,
	ledger.Module,
	payout.Module,
	refund.Module,
	ingress.Module,
	bankreview.Module,
	apikey.Module,
	paymentprovider.Module,
	payment.Module,
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
