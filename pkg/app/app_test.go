package app

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidting0918/vegaexchange/params"
	"github.com/davidting0918/vegaexchange/pkg/market"
)

func newTestConfig(t *testing.T) params.Config {
	cfg := params.Default()
	cfg.Storage.DBPath = fmt.Sprintf("./tmp_test_app_%s.db", t.Name())
	os.RemoveAll(cfg.Storage.DBPath)
	t.Cleanup(func() { os.RemoveAll(cfg.Storage.DBPath) })
	return cfg
}

func TestNewSeedsDemoSymbolsIntoRegistry(t *testing.T) {
	cfg := newTestConfig(t)
	vega, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer vega.Close()

	syms := vega.Registry.List()
	require.Len(t, syms, 2)

	btc, err := vega.Registry.Get("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.Equal(t, market.EngineAMM, btc.Engine)

	eth, err := vega.Registry.Get("ETH/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.Equal(t, market.EngineCLOB, eth.Engine)
}

func TestNewIsIdempotentAcrossRestarts(t *testing.T) {
	cfg := newTestConfig(t)

	first, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	require.Len(t, second.Registry.List(), 2, "reopening against the same database must not duplicate seeded symbols")
}

func TestNewWiresRouterOverSeededRegistry(t *testing.T) {
	cfg := newTestConfig(t)
	vega, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer vega.Close()

	sym, err := vega.Router.Market("BTC/USDT-USDT:SPOT")
	require.NoError(t, err)
	require.Equal(t, "BTC", sym.Base)
}
