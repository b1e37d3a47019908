package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitplan/orbitapi/internal/services/iam"
)

// reloadStub is an iamHandlerService whose reload outcome is fixed.
type reloadStub struct {
	iamHandlerService
	err error
}

func (s reloadStub) ReloadPermissions(ctx context.Context, source string) error {
	return s.err
}

func (s reloadStub) PermissionSnapshot() *iam.PermissionSnapshot {
	return &iam.PermissionSnapshot{
		Rules:    map[string]map[string]struct{}{"organization/owner": {"organization.read": {}}},
		Version:  3,
		LoadedAt: time.Unix(1700000000, 0),
	}
}

func TestHandleReloadPermissions(t *testing.T) {
	serve := func(err error) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		HandleReloadPermissions(reloadStub{err: err})(rr, httptest.NewRequest(http.MethodPost, "/admin/permissions/reload", nil))
		return rr
	}

	t.Run("broadcast failure still reports the local reload", func(t *testing.T) {
		rr := serve(fmt.Errorf("%w: publish permission reload: connection refused", iam.ErrReloadNotBroadcast))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp ReloadResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "local_only", resp.Status)
		assert.NotEmpty(t, resp.Warning)
		assert.Equal(t, 3, resp.Version)
		assert.Equal(t, 1, resp.Rules)
	})

	t.Run("local failure", func(t *testing.T) {
		rr := serve(errors.New("load rules: closed"))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("success", func(t *testing.T) {
		rr := serve(nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp ReloadResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Empty(t, resp.Warning)
	})
}
