package bunx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orbitplan/orbitapi/internal/telemetry"
	"github.com/uptrace/bun"
)

// MetricsHook records every query on the database metrics instruments.
type MetricsHook struct {
	metrics *telemetry.DatabaseMetrics
}

var _ bun.QueryHook = (*MetricsHook)(nil)

// NewMetricsHook creates a query hook; a nil metrics makes it a no-op.
func NewMetricsHook(metrics *telemetry.DatabaseMetrics) *MetricsHook {
	return &MetricsHook{metrics: metrics}
}

// BeforeQuery implements bun.QueryHook.
func (h *MetricsHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery implements bun.QueryHook.
func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	err := event.Err
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	h.metrics.RecordQuery(ctx, event.Operation(), float64(time.Since(event.StartTime).Microseconds())/1000, err)
}
