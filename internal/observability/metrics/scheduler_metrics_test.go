package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/playgroundx/settlement/internal/authorization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessedIgnoresEmptyRuns(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "playgroundx-settlement", Environment: "test"})

	m.AddBatchProcessed(StagePayoutBuild, "payout_batch", 3)
	m.AddBatchProcessed(StagePayoutBuild, "payout_batch", 0)

	got := testutil.ToFloat64(m.itemsProcessed.WithLabelValues(StagePayoutBuild, "payout_batch"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncStageErrorClassifiesDB(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{Environment: "test"})

	m.IncStageError(StageBalanceReconcile, &pgconn.PgError{Code: "40001"})
	m.IncStageError(StageBalanceReconcile, nil)

	got := testutil.ToFloat64(m.stageErrors.WithLabelValues(StageBalanceReconcile, SchedulerErrorTypeDB))
	if got != 1 {
		t.Fatalf("expected db stage error, got %v", got)
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(context.DeadlineExceeded) {
		t.Fatal("deadline should be retryable")
	}
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "55P03"}) {
		t.Fatal("lock timeout should be retryable")
	}
	if IsSchedulerErrorRetryable(authorization.ErrForbidden) {
		t.Fatal("forbidden should not be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatal("not found is a business outcome")
	}
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("payout_build")
	m.IncJobError("payout_build", errors.New("boom"))
	m.ObserveRunLoopLag(-time.Second)
}
