package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/dbtest"
	"github.com/orbitplan/orbitapi/internal/repository"
)

type recordingTagger struct {
	tags []bunx.SessionTags
	err  error
}

func (t *recordingTagger) Tag(_ context.Context, _ bun.Tx, tags bunx.SessionTags) error {
	t.tags = append(t.tags, tags)
	return t.err
}

func (t *recordingTagger) Enforced() bool { return true }

func hasRule(t *testing.T, rules repository.PermissionRuleRepository, action string) bool {
	t.Helper()
	list, err := rules.List(context.Background())
	require.NoError(t, err)
	for _, r := range list {
		if r.Action == action {
			return true
		}
	}
	return false
}

// writeRule inserts a rule through whatever handle the request carries and
// answers with status.
func writeRule(rules repository.PermissionRuleRepository, action string, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, inTx := bunx.TxFromContext(r.Context()); !inTx {
			w.Header().Set("X-Untagged", "1")
		}
		if _, err := rules.Add(r.Context(), "project", "viewer", action); err != nil {
			WriteError(w, http.StatusInternalServerError, CodeInternal, err.Error())
			return
		}
		w.WriteHeader(status)
	})
}

func TestRLSSession_CommitAndRollback(t *testing.T) {
	db := dbtest.New(t)
	rules := repository.NewBunPermissionRuleRepository(db)
	tagger := &recordingTagger{}
	rc := orgContext(orgA, auth.RoleOwner)

	serve := func(action string, status int) *httptest.ResponseRecorder {
		h := withState(&auth.Principal{UserID: userID}, rc)(RLSSession(db, tagger, nil)(writeRule(rules, action, status)))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		return rr
	}

	rr := serve("audit.read", http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, hasRule(t, rules, "audit.read"), "2xx commits")

	rr = serve("audit.write", http.StatusConflict)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.False(t, hasRule(t, rules, "audit.write"), "4xx rolls back")

	require.Len(t, tagger.tags, 2)
	assert.Equal(t, bunx.SessionTags{UserID: userID, OrganizationID: orgA}, tagger.tags[0])
}

func TestRLSSession_PanicRollsBack(t *testing.T) {
	db := dbtest.New(t)
	rules := repository.NewBunPermissionRuleRepository(db)
	h := withState(&auth.Principal{UserID: userID}, nil)(RLSSession(db, &recordingTagger{}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = rules.Add(r.Context(), "project", "viewer", "audit.panic")
			panic("boom")
		})))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	})
	assert.False(t, hasRule(t, rules, "audit.panic"))
}

func TestRLSSession_TagsActingUser(t *testing.T) {
	db := dbtest.New(t)
	tagger := &recordingTagger{}
	rc := orgContext(orgA, auth.RoleMember)
	rc.RealUserID = supportID

	h := withState(&auth.Principal{UserID: supportID}, rc)(RLSSession(db, tagger, nil)((&recorder{}).handler()))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, tagger.tags, 1)
	assert.Equal(t, userID, tagger.tags[0].UserID)
}

func TestRLSSession_TaggingFailure(t *testing.T) {
	db := dbtest.New(t)
	rules := repository.NewBunPermissionRuleRepository(db)
	tagger := &recordingTagger{err: errors.Join(bunx.ErrTaggingFailed, errors.New("set_config denied"))}

	t.Run("end user fails closed", func(t *testing.T) {
		h := withState(&auth.Principal{UserID: userID}, nil)(RLSSession(db, tagger, nil)(writeRule(rules, "audit.user", http.StatusCreated)))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.False(t, hasRule(t, rules, "audit.user"))
	})

	t.Run("trusted service continues untagged", func(t *testing.T) {
		h := withState(&auth.Principal{UserID: userID, Trusted: true}, nil)(RLSSession(db, tagger, nil)(writeRule(rules, "audit.service", http.StatusCreated)))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("X-Untagged"))
		assert.True(t, hasRule(t, rules, "audit.service"))
	})
}

func TestRLSSession_RequiresPrincipal(t *testing.T) {
	db := dbtest.New(t)
	rr := httptest.NewRecorder()
	RLSSession(db, &recordingTagger{}, nil)((&recorder{}).handler()).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
