package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/crypto"
	"github.com/dvloznov/taxledger/internal/kv/inmemory"
	"github.com/dvloznov/taxledger/internal/oracle"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func fakeOracle(answer string) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
		return answer, nil
	})
}

func TestNew_InMemoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, Options{Oracle: fakeOracle("급여: 4,000,000")}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Jobs)

	session, created, err := a.Service.EnsureSession(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)

	_, err = a.Service.AnalyzeDocument(ctx, session, "소득", "doc")
	require.NoError(t, err)

	res, err := a.Service.Result(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, int64(4000000), res.Summary.TotalIncome)
}

func TestNew_ConfiguredKeySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	key, iv, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Crypto.Key, cfg.Crypto.IV = key, iv
	store := inmemory.NewStore()

	first, err := New(ctx, cfg, Options{Oracle: fakeOracle("상여: 10"), KV: store}, zerolog.Nop())
	require.NoError(t, err)
	_, err = first.Service.AnalyzeDocument(ctx, "s1", "소득", "doc")
	require.NoError(t, err)

	second, err := New(ctx, cfg, Options{Oracle: fakeOracle(""), KV: store}, zerolog.Nop())
	require.NoError(t, err)
	res, err := second.Service.Result(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Summary.TotalIncome)
}

func TestNew_CustomRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("document_types: ["), 0o600))

	cfg := testConfig(t)
	cfg.Rules.Path = path
	_, err := New(context.Background(), cfg, Options{Oracle: fakeOracle("")}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_SessionIDsCannotNameCacheKeys(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	a, err := New(ctx, testConfig(t), Options{Oracle: fakeOracle("급여: 1"), KV: store}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, store.Set(ctx, "analysis:entry:fp", "answer", time.Hour))

	session, created, err := a.Service.EnsureSession(ctx, "analysis:entry:fp")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "analysis:entry:fp", session)

	ok, err := store.HExists(ctx, "ledger:"+session, "USER_TOKEN")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Service.DeleteSession(ctx, session))
	v, found, err := store.Get(ctx, "analysis:entry:fp")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "answer", v)
}
