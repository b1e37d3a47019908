package iam

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitplan/orbitapi/cmd/cmdutil"
	iamsvc "github.com/orbitplan/orbitapi/internal/services/iam"
)

// stubReloads answers only the calls reload makes.
type stubReloads struct {
	iamsvc.Service
	err error
}

func (s stubReloads) ReloadPermissions(ctx context.Context, source string) error {
	return s.err
}

func (s stubReloads) PermissionSnapshot() *iamsvc.PermissionSnapshot {
	return &iamsvc.PermissionSnapshot{Version: 7}
}

func TestReload(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		require.NoError(t, reload(ctx, &cmdutil.Bundle{IAM: stubReloads{}}))
	})

	t.Run("broadcast failure tells the operator to signal replicas", func(t *testing.T) {
		failed := fmt.Errorf("%w: dial tcp 127.0.0.1:6379: connection refused", iamsvc.ErrReloadNotBroadcast)
		err := reload(ctx, &cmdutil.Bundle{IAM: stubReloads{err: failed}})
		require.Error(t, err)
		assert.ErrorIs(t, err, iamsvc.ErrReloadNotBroadcast)
		assert.Contains(t, err.Error(), "send SIGHUP")
	})

	t.Run("local failure", func(t *testing.T) {
		err := reload(ctx, &cmdutil.Bundle{IAM: stubReloads{err: errors.New("load rules: closed")}})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "SIGHUP")
		assert.Contains(t, err.Error(), "reload failed")
	})
}
