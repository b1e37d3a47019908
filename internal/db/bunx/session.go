package bunx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Session-local variables read by the row-level security policies.
const (
	SettingCurrentUserID = "app.current_user_id"
	SettingCurrentOrgID  = "app.current_org_id"
)

// RestrictedRole is the PostgreSQL role request transactions switch to.
// It owns no tables, so every row policy applies to it. The pooled
// connection role owns the schema and bypasses RLS.
const RestrictedRole = "orbit_app"

// ErrTaggingFailed wraps any failure to attach RLS identity to a request transaction.
var ErrTaggingFailed = errors.New("rls session tagging failed")

type txContextKey struct{}

type elevatedContextKey struct{}

// WithTx stores the request-scoped transaction on the context.
func WithTx(ctx context.Context, tx bun.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the request-scoped transaction, if any.
func TxFromContext(ctx context.Context) (bun.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(bun.Tx)
	return tx, ok
}

// Elevated marks the context so that Conn ignores the request transaction and
// uses the privileged pool. Only trust-boundary code (context resolution,
// principal provisioning) should run elevated.
func Elevated(ctx context.Context) context.Context {
	return context.WithValue(ctx, elevatedContextKey{}, true)
}

// IsElevated reports whether ctx was marked by Elevated.
func IsElevated(ctx context.Context) bool {
	v, _ := ctx.Value(elevatedContextKey{}).(bool)
	return v
}

// Conn returns the query handle for ctx: the tagged request transaction when
// one is present, otherwise db.
func Conn(ctx context.Context, db bun.IDB) bun.IDB {
	if IsElevated(ctx) {
		return db
	}
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// SessionTags is the identity pushed into the database session.
type SessionTags struct {
	UserID         string
	OrganizationID string
}

// Tagger attaches SessionTags to an open transaction.
type Tagger interface {
	Tag(ctx context.Context, tx bun.Tx, tags SessionTags) error
	// Enforced reports whether the backing database evaluates the tags.
	Enforced() bool
}

// PostgresTagger drops to RestrictedRole and sets transaction-local settings
// with set_config(..., true). Both vanish at COMMIT/ROLLBACK and never leak
// to the next borrower of the pooled connection.
type PostgresTagger struct{}

// Tag implements Tagger.
func (PostgresTagger) Tag(ctx context.Context, tx bun.Tx, tags SessionTags) error {
	if tags.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrTaggingFailed)
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+RestrictedRole); err != nil {
		return fmt.Errorf("%w: %v", ErrTaggingFailed, err)
	}
	_, err := tx.ExecContext(ctx,
		"SELECT set_config(?, ?, true), set_config(?, ?, true)",
		SettingCurrentUserID, tags.UserID,
		SettingCurrentOrgID, tags.OrganizationID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTaggingFailed, err)
	}
	return nil
}

// Enforced implements Tagger.
func (PostgresTagger) Enforced() bool { return true }

// UnenforcedTagger is used for SQLite, which has no row-level security.
// Isolation then rests on the guard chain alone.
type UnenforcedTagger struct{}

// Tag implements Tagger.
func (UnenforcedTagger) Tag(_ context.Context, _ bun.Tx, tags SessionTags) error {
	if tags.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrTaggingFailed)
	}
	return nil
}

// Enforced implements Tagger.
func (UnenforcedTagger) Enforced() bool { return false }

// NewTagger picks the tagger matching the database dialect.
func NewTagger(db *bun.DB) Tagger {
	if db.Dialect().Name() == dialect.PG {
		return PostgresTagger{}
	}
	return UnenforcedTagger{}
}

// BeginTagged opens the request transaction and tags it. On tagging failure
// the transaction is rolled back and ErrTaggingFailed is returned.
func BeginTagged(ctx context.Context, db *bun.DB, tagger Tagger, tags SessionTags) (bun.Tx, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return bun.Tx{}, fmt.Errorf("begin request transaction: %w", err)
	}
	if err := tagger.Tag(ctx, tx, tags); err != nil {
		_ = tx.Rollback()
		return bun.Tx{}, err
	}
	return tx, nil
}

// RunInTx runs fn inside a transaction on the handle Conn would pick for
// ctx. Inside an open request transaction this becomes a savepoint. The ctx
// passed to fn carries the new transaction and is no longer elevated.
func RunInTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context) error) error {
	return Conn(ctx, db).RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		txCtx := context.WithValue(WithTx(ctx, tx), elevatedContextKey{}, false)
		return fn(txCtx)
	})
}
