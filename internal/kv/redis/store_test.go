package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/taxledger/internal/apperr"
)

func TestNewStore_MissingAddr(t *testing.T) {
	_, err := NewStore(context.Background(), Options{})
	assert.Error(t, err)
	assert.False(t, apperr.IsRetryable(err))
}

func TestNewStore_UnreachableIsRetryable(t *testing.T) {
	_, err := NewStore(context.Background(), Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestStore_CommandErrorsAreRetryable(t *testing.T) {
	s := NewStoreWithClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer s.Close()
	ctx := context.Background()

	_, err := s.HGetAll(ctx, "k")
	assert.True(t, apperr.IsRetryable(err))
	_, _, err = s.Get(ctx, "k")
	assert.True(t, apperr.IsRetryable(err))
	assert.True(t, apperr.IsRetryable(s.Expire(ctx, "k", time.Minute)))

	// no-ops never reach the server
	assert.NoError(t, s.HSet(ctx, "k", nil))
	assert.NoError(t, s.SAdd(ctx, "k"))
	n, err := s.Del(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

// TestStore_Integration runs against a live server when TAXLEDGER_TEST_REDIS
// names one, e.g. localhost:6379.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("TAXLEDGER_TEST_REDIS")
	if addr == "" {
		t.Skip("TAXLEDGER_TEST_REDIS not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, Options{Addr: addr})
	require.NoError(t, err)
	defer s.Close()

	key := "taxledger-test:" + time.Now().Format("150405.000000000")
	defer s.Del(ctx, key, key+":set", key+":str")

	require.NoError(t, s.HSet(ctx, key, map[string]string{"a": "1", "b": "2"}))
	m, err := s.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)

	ok, err := s.HExists(ctx, key, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Set(ctx, key+":str", "v", time.Minute))
	v, found, err := s.Get(ctx, key+":str")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)

	_, found, err = s.Get(ctx, key+":missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SAdd(ctx, key+":set", "x", "y"))
	members, err := s.SMembers(ctx, key+":set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	n, err := s.Del(ctx, key, key+":set")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
