package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("orbitapi/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// DatabaseMetrics holds metric instruments for database operations.
type DatabaseMetrics struct {
	QueryCounter  metric.Int64Counter     // Total database queries
	QueryDuration metric.Float64Histogram // Query latency
	QueryErrors   metric.Int64Counter     // Total query errors
}

// NewDatabaseMetrics creates metric instruments for database telemetry.
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter("orbitapi/database")

	queryCounter, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000),
	)
	if err != nil {
		return nil, err
	}

	queryErrors, err := meter.Int64Counter(
		"db.query.error.count",
		metric.WithDescription("Total number of database query errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		QueryCounter:  queryCounter,
		QueryDuration: queryDuration,
		QueryErrors:   queryErrors,
	}, nil
}

// RecordQuery records a database query with operation type and duration.
func (d *DatabaseMetrics) RecordQuery(ctx context.Context, operation string, durationMs float64, err error) {
	if d == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation), // SELECT, INSERT, UPDATE, DELETE
	)

	d.QueryCounter.Add(ctx, 1, attrs)
	d.QueryDuration.Record(ctx, durationMs, attrs)

	if err != nil {
		d.QueryErrors.Add(ctx, 1, attrs)
	}
}

// AuthzMetrics holds metric instruments for the authorization path.
type AuthzMetrics struct {
	AuthAttempts      metric.Int64Counter // Token verification attempts
	AuthFailures      metric.Int64Counter // Failed verifications, by reason
	GuardRejections   metric.Int64Counter // Rejections by guard stage
	PermissionReloads metric.Int64Counter // Permission engine reloads
	TaggingFailures   metric.Int64Counter // RLS tagging failures
}

// NewAuthzMetrics creates metric instruments for authorization telemetry.
func NewAuthzMetrics() (*AuthzMetrics, error) {
	meter := otel.Meter("orbitapi/authz")

	counters := []struct {
		name, desc, unit string
		dst              *metric.Int64Counter
	}{
		{"auth.attempt.count", "Total number of token verification attempts", "{attempt}", nil},
		{"auth.failure.count", "Total number of failed token verifications", "{failure}", nil},
		{"authz.guard.rejection.count", "Requests rejected by a guard stage", "{request}", nil},
		{"authz.permission.reload.count", "Permission engine reloads", "{reload}", nil},
		{"authz.rls.tagging_failure.count", "Failures to tag the request transaction", "{failure}", nil},
	}

	m := &AuthzMetrics{}
	counters[0].dst = &m.AuthAttempts
	counters[1].dst = &m.AuthFailures
	counters[2].dst = &m.GuardRejections
	counters[3].dst = &m.PermissionReloads
	counters[4].dst = &m.TaggingFailures

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordAuth records one verification attempt. reason is empty on success.
func (m *AuthzMetrics) RecordAuth(ctx context.Context, scheme, reason string) {
	if m == nil {
		return
	}
	m.AuthAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("auth.scheme", scheme)))
	if reason != "" {
		m.AuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("auth.reason", reason)))
	}
}

// RecordRejection records a guard rejection.
func (m *AuthzMetrics) RecordRejection(ctx context.Context, guard string, status int) {
	if m == nil {
		return
	}
	m.GuardRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGuard, guard),
		attribute.Int("http.status_code", status),
	))
}

// RecordReload records a permission engine reload.
func (m *AuthzMetrics) RecordReload(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.PermissionReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("reload.source", source)))
}

// RecordTaggingFailure records an RLS tagging failure.
func (m *AuthzMetrics) RecordTaggingFailure(ctx context.Context, trusted bool) {
	if m == nil {
		return
	}
	m.TaggingFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("principal.trusted", trusted)))
}
