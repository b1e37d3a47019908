package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used by the authorization core.
const (
	TracerIAM     = "orbitapi/services/iam"
	TracerTenancy = "orbitapi/services/tenancy"
	TracerGuards  = "orbitapi/middleware"
)

// StartSpan creates a new span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.BuildContext",
//	    attribute.String(telemetry.AttrUserID, userID),
//	)
//	defer span.End()
//
// Without a registered TracerProvider the global no-op tracer is used.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
//
//	telemetry.AddEvent(span, "guard.rejected",
//	    attribute.String(telemetry.AttrGuard, "permission"),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	AttrUserID       = "principal.user_id"
	AttrActingUserID = "principal.acting_user_id"
	AttrScheme       = "principal.scheme"

	AttrOrgID       = "tenant.org_id"
	AttrOrgRole     = "tenant.org_role"
	AttrProjectID   = "tenant.project_id"
	AttrProjectRole = "tenant.project_role"

	AttrAction  = "authz.action"
	AttrScope   = "authz.scope"
	AttrAllowed = "authz.allowed"
	AttrGuard   = "authz.guard"
)
