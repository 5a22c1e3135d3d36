package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// ledgerTables are the tables whose writes move money. Statements touching
// them are logged with ledger=true so they can be filtered during incidents.
var ledgerTables = map[string]struct{}{
	"ledger_events":            {},
	"balances":                 {},
	"payout_batches":           {},
	"payout_batch_items":       {},
	"refund_requests":          {},
	"bank_payment_submissions": {},
	"user_payment_states":      {},
	"fee_schedules":            {},
	"idempotency_keys":         {},
	"outbox_events":            {},
	"payment_events":           {},
}

// QueryLogOptions tune which statements reach the zap logger.
type QueryLogOptions struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LedgerSlowThreshold applies to statements on ledgerTables. Zero falls
	// back to SlowThreshold.
	LedgerSlowThreshold time.Duration
	SkipNotFound        bool
}

// DefaultQueryLogOptions keeps not-found lookups quiet since idempotency and
// dedup checks hit them on every request.
func DefaultQueryLogOptions() QueryLogOptions {
	return QueryLogOptions{
		Level:               gormlogger.Warn,
		SlowThreshold:       250 * time.Millisecond,
		LedgerSlowThreshold: 100 * time.Millisecond,
		SkipNotFound:        true,
	}
}

// QueryLogger routes GORM output through the request-scoped zap logger.
type QueryLogger struct {
	opts QueryLogOptions
}

func NewQueryLogger(opts QueryLogOptions) *QueryLogger {
	if opts.LedgerSlowThreshold <= 0 {
		opts.LedgerSlowThreshold = opts.SlowThreshold
	}
	return &QueryLogger{opts: opts}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.opts.Level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.opts.Level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "store")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace decides the level of a finished statement: failures at error, slow
// statements at warn, everything else at debug when the level allows it.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.opts.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	stmt := describeStatement(sql)

	threshold := l.opts.SlowThreshold
	if stmt.ledger {
		threshold = l.opts.LedgerSlowThreshold
	}

	var level zapcore.Level
	switch {
	case err != nil && l.opts.Level >= gormlogger.Error:
		if errors.Is(err, gormlogger.ErrRecordNotFound) && l.opts.SkipNotFound {
			return
		}
		level = zapcore.ErrorLevel
	case threshold > 0 && elapsed > threshold && l.opts.Level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case l.opts.Level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	ce := FromContext(ctx).Check(level, "store.query")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("component", "store"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Bool("ledger", stmt.ledger),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values; bank references and payout amounts must
// not end up in log storage.
func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

type statement struct {
	operation string
	table     string
	ledger    bool
}

func describeStatement(sql string) statement {
	tokens := strings.Fields(strings.TrimSpace(sql))
	stmt := statement{operation: "UNKNOWN"}
	for i := 0; i < len(tokens); i++ {
		word := strings.ToUpper(strings.Trim(tokens[i], "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if stmt.operation == "UNKNOWN" {
				stmt.operation = word
			}
			if word == "UPDATE" && i+1 < len(tokens) && stmt.table == "" {
				stmt.table = tableName(tokens[i+1])
			}
		case "FROM", "INTO":
			if i+1 < len(tokens) && stmt.table == "" {
				stmt.table = tableName(tokens[i+1])
			}
		}
	}
	_, stmt.ledger = ledgerTables[stmt.table]
	return stmt
}

func tableName(token string) string {
	token = strings.Trim(token, "();`\"")
	if dot := strings.LastIndex(token, "."); dot >= 0 {
		token = token[dot+1:]
	}
	return strings.Trim(strings.ToLower(token), "`\"")
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
