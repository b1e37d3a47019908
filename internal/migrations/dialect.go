package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// rowSecurity reports whether the backend enforces row policies. SQLite
// migrations skip the policy set and rely on the guard chain alone.
func rowSecurity(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

// alterConstraints reports whether foreign keys can be added to an existing
// table. SQLite only accepts them in CREATE TABLE, so the circular
// users.last_active_org_id reference stays unchecked there.
func alterConstraints(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}
