package middleware

import (
	"bytes"
	"log"
	"net/http"

	"github.com/uptrace/bun"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

// RLSSession wraps the rest of the request in one database transaction
// tagged with the acting user and, when resolved, the active organization.
// Repositories pick the transaction up through bunx.Conn.
//
// The transaction commits when the handler answers below 400 and rolls back
// otherwise, on panic, or when the client goes away. The response is held
// back until the commit succeeded so a failed commit still surfaces as 500.
//
// When tagging fails the request is rejected, except for trusted service
// principals which continue on the untagged pool.
func RLSSession(db *bun.DB, tagger bunx.Tagger, metrics *telemetry.AuthzMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := auth.PrincipalFromContext(ctx)
			if !ok {
				metrics.RecordRejection(ctx, GuardSession, http.StatusUnauthorized)
				WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, "authorization required")
				return
			}

			tags := bunx.SessionTags{UserID: principal.UserID}
			if rc, ok := auth.RequestContextFrom(ctx); ok {
				tags.UserID = rc.ActingUserID
				if rc.Organization != nil {
					tags.OrganizationID = rc.Organization.ID
				}
			}

			tx, err := bunx.BeginTagged(ctx, db, tagger, tags)
			if err != nil {
				metrics.RecordTaggingFailure(ctx, principal.Trusted)
				if principal.Trusted {
					log.Printf("WARNING: RLS tagging failed for trusted principal %s, continuing untagged: %v", principal.UserID, err)
					next.ServeHTTP(w, r)
					return
				}
				log.Printf("ERROR: RLS tagging failed for user %s: %v", principal.UserID, err)
				metrics.RecordRejection(ctx, GuardSession, http.StatusInternalServerError)
				WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
				return
			}

			done := false
			defer func() {
				if !done {
					_ = tx.Rollback()
				}
			}()

			buf := newBufferedResponse(w)
			next.ServeHTTP(buf, r.WithContext(bunx.WithTx(ctx, tx)))

			if buf.status >= http.StatusBadRequest {
				done = true
				if err := tx.Rollback(); err != nil {
					log.Printf("WARNING: rollback failed: %v", err)
				}
				buf.flush()
				return
			}

			done = true
			if err := tx.Commit(); err != nil {
				log.Printf("ERROR: commit failed for %s %s: %v", r.Method, r.URL.Path, err)
				w.Header().Del("Set-Cookie")
				WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
				return
			}
			buf.flush()
		})
	}
}

// bufferedResponse holds status and body until the transaction outcome is
// known. Headers go straight to the underlying writer's map.
type bufferedResponse struct {
	w      http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newBufferedResponse(w http.ResponseWriter) *bufferedResponse {
	return &bufferedResponse{w: w}
}

func (b *bufferedResponse) Header() http.Header { return b.w.Header() }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) flush() {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.w.WriteHeader(b.status)
	if _, err := b.w.Write(b.body.Bytes()); err != nil {
		log.Printf("WARNING: failed to write response: %v", err)
	}
}
