package claims

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRegistry(t *testing.T, ttl time.Duration) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisRegistry(client, "smartbch", ttl), mr
}

func registries(t *testing.T) map[string]Registry {
	reg, _ := newRedisRegistry(t, 0)
	return map[string]Registry{
		"redis":  reg,
		"memory": NewMemoryRegistry(),
	}
}

func TestRegistryClaimRelease(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := reg.Claim(ctx, BlocksBeingParsed, "100")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = reg.Claim(ctx, BlocksBeingParsed, "100")
			require.NoError(t, err)
			require.False(t, ok, "second claim must fail while held")

			// Namespaces are independent.
			ok, err = reg.Claim(ctx, TxsBeingParsed, "100")
			require.NoError(t, err)
			require.True(t, ok)

			claimed, err := reg.IsClaimed(ctx, BlocksBeingParsed, "100")
			require.NoError(t, err)
			require.True(t, claimed)

			members, err := reg.Members(ctx, BlocksBeingParsed)
			require.NoError(t, err)
			require.Equal(t, []string{"100"}, members)

			require.NoError(t, reg.Release(ctx, BlocksBeingParsed, "100"))
			require.NoError(t, reg.Release(ctx, BlocksBeingParsed, "100"))
			require.NoError(t, reg.Release(ctx, AddressesBeingCrawled, "never-claimed"))

			claimed, err = reg.IsClaimed(ctx, BlocksBeingParsed, "100")
			require.NoError(t, err)
			require.False(t, claimed)

			ok, err = reg.Claim(ctx, BlocksBeingParsed, "100")
			require.NoError(t, err)
			require.True(t, ok, "key can be claimed again right after release")
		})
	}
}

func TestRedisRegistryKeys(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRedisRegistry(t, 0)

	ok, err := reg.Claim(ctx, TxTransfersBeingParsed, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("smartbch:tx-transfers-being-parsed"))
}

func TestRedisRegistryTTL(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRedisRegistry(t, time.Minute)

	now := time.Now()
	reg.now = func() time.Time { return now }

	ok, err := reg.Claim(ctx, AddressesBeingCrawled, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reg.Claim(ctx, AddressesBeingCrawled, "0xabc")
	require.NoError(t, err)
	require.False(t, ok)

	// A leaked claim becomes available once its TTL passes.
	now = now.Add(2 * time.Minute)

	claimed, err := reg.IsClaimed(ctx, AddressesBeingCrawled, "0xabc")
	require.NoError(t, err)
	require.False(t, claimed)

	members, err := reg.Members(ctx, AddressesBeingCrawled)
	require.NoError(t, err)
	require.Empty(t, members)

	ok, err = reg.Claim(ctx, AddressesBeingCrawled, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDoConcurrentExclusive(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 16

			var (
				wg        sync.WaitGroup
				ran       atomic.Int32
				contended atomic.Int32
				start     = make(chan struct{})
				hold      = make(chan struct{})
			)

			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					err := Do(ctx, reg, BlocksBeingParsed, "42", func(context.Context) error {
						ran.Add(1)
						<-hold
						return nil
					})
					if errors.Is(err, ErrAlreadyClaimed) {
						contended.Add(1)
					}
				}()
			}

			close(start)
			require.Eventually(t, func() bool {
				return ran.Load() == 1 && contended.Load() == workers-1
			}, 5*time.Second, 5*time.Millisecond)
			close(hold)
			wg.Wait()

			assert.Equal(t, int32(1), ran.Load())
			assert.Equal(t, int32(workers-1), contended.Load())

			claimed, err := reg.IsClaimed(ctx, BlocksBeingParsed, "42")
			require.NoError(t, err)
			assert.False(t, claimed)
		})
	}
}

func TestDoReleasesOnError(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := Do(ctx, reg, TxsBeingParsed, "0x01", func(context.Context) error {
				return boom
			})
			require.ErrorIs(t, err, boom)

			claimed, err := reg.IsClaimed(ctx, TxsBeingParsed, "0x01")
			require.NoError(t, err)
			assert.False(t, claimed)
		})
	}
}

func TestDoReleasesOnPanic(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			err := Do(ctx, reg, TxsBeingParsed, "0x02", func(context.Context) error {
				panic("unexpected")
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unexpected")

			claimed, err := reg.IsClaimed(ctx, TxsBeingParsed, "0x02")
			require.NoError(t, err)
			assert.False(t, claimed)
		})
	}
}

func TestDoFailsClosed(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRedisRegistry(t, 0)
	mr.Close()

	called := false
	err := Do(ctx, reg, BlocksBeingParsed, "7", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.False(t, called)
}
