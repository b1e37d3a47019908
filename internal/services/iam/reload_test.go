package iam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReloader records reload sources.
type countingReloader struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (c *countingReloader) Reload(ctx context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, source)
	return c.err
}

func TestReloadBroadcaster_Handle(t *testing.T) {
	ctx := context.Background()
	target := &countingReloader{}
	b := &ReloadBroadcaster{instance: "self", target: target}

	b.handle(ctx, `{"origin":"self"}`)
	b.handle(ctx, `not json`)
	assert.Empty(t, target.sources, "own and malformed announcements are ignored")

	b.handle(ctx, `{"origin":"replica-2"}`)
	assert.Equal(t, []string{"broadcast"}, target.sources)

	target.err = errBoom
	b.handle(ctx, `{"origin":"replica-3"}`)
	assert.Len(t, target.sources, 2)
}

func TestNewReloadBroadcaster_Validation(t *testing.T) {
	_, err := NewReloadBroadcaster("", "ch", &countingReloader{})
	assert.Error(t, err)

	_, err = NewReloadBroadcaster("://bad", "ch", &countingReloader{})
	assert.Error(t, err)

	b, err := NewReloadBroadcaster("redis://localhost:6379/0", "ch", &countingReloader{})
	require.NoError(t, err)
	assert.NotEmpty(t, b.instance)
	assert.NoError(t, b.Close())
}

func TestReloadPermissions_BroadcastFailure(t *testing.T) {
	f := newFixture(t)
	local, err := auth.NewLocalVerifier("test-secret", 0)
	require.NoError(t, err)

	svc, err := NewIAMService(IAMServiceDependencies{
		Users:          f.users,
		Orgs:           f.orgs,
		Projects:       f.projects,
		Rules:          f.rules,
		Verifier:       local,
		ReloadRedisURL: "redis://127.0.0.1:1/0",
		ReloadChannel:  "orbit:permissions:test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := svc.PermissionSnapshot().Version
	err = svc.ReloadPermissions(ctx, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReloadNotBroadcast)
	assert.Equal(t, before+1, svc.PermissionSnapshot().Version, "local reload applies even when the announcement fails")
}
