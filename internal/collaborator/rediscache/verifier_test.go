package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/redis"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

func newVerifier(t *testing.T) (*Verifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	v := NewVerifier(client, 50*time.Millisecond)
	v.interval = 5 * time.Millisecond
	return v, mr
}

func TestVerifyConfirmsPresentEntry(t *testing.T) {
	v, mr := newVerifier(t)
	key := Key(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	mr.HSet(key, versionField, "7", "US/SPRING", `{"offerCode":"SPRING"}`)

	err := v.Verify(context.Background(), collaborator.EnvStaged, collaborator.ConfigSetOffers, "US/SPRING", 7, true)
	assert.NoError(t, err)
}

func TestVerifyFailsWhenVersionLags(t *testing.T) {
	v, mr := newVerifier(t)
	mr.HSet(Key(collaborator.EnvStaged, collaborator.ConfigSetOffers), versionField, "6", "US/SPRING", "{}")

	err := v.Verify(context.Background(), collaborator.EnvStaged, collaborator.ConfigSetOffers, "US/SPRING", 7, true)
	require.Error(t, err)
	assert.Equal(t, remote.OriginTargeting, remote.OriginOf(err))
	assert.Contains(t, err.Error(), "want >= 7")
}

func TestVerifyRemovedEntry(t *testing.T) {
	v, mr := newVerifier(t)
	mr.HSet(Key(collaborator.EnvPublished, collaborator.ConfigSetOffers), versionField, "3")

	err := v.Verify(context.Background(), collaborator.EnvPublished, collaborator.ConfigSetOffers, "GB/WINTER", 3, false)
	assert.NoError(t, err)
}

func TestVerifyWaitsForLatePropagation(t *testing.T) {
	v, mr := newVerifier(t)
	v.timeout = time.Second
	key := Key(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	go func() {
		time.Sleep(20 * time.Millisecond)
		mr.HSet(key, versionField, "2", "US/X", "{}")
	}()

	err := v.Verify(context.Background(), collaborator.EnvStaged, collaborator.ConfigSetOffers, "US/X", 2, true)
	assert.NoError(t, err)
}
