package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestConfigFrom_DefaultsAndEnv(t *testing.T) {
	t.Setenv("LASTMILE_BENCH_CONCURRENCY", "7")
	t.Setenv("LASTMILE_BENCH_BASE_URL", "http://api:9000/")
	t.Setenv("LASTMILE_DB_DSN", "postgres://db/lastmile")

	v := viper.New()
	newBenchCmd(v)
	cfg, err := configFrom(v)
	require.NoError(t, err)
	require.Equal(t, "http://api:9000", cfg.BaseURL)
	require.Equal(t, 7, cfg.Concurrency)
	require.Equal(t, "postgres://db/lastmile", cfg.DSN)
	require.Equal(t, 10*time.Second, cfg.Duration)
	require.False(t, cfg.Strict)
}

func TestConfigFrom_FlagsWin(t *testing.T) {
	t.Setenv("LASTMILE_BENCH_CONCURRENCY", "7")

	v := viper.New()
	cmd := newBenchCmd(v)
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency=3", "--strict"}))
	cfg, err := configFrom(v)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Concurrency)
	require.True(t, cfg.Strict)
}

func TestConfigFrom_RejectsZeroConcurrency(t *testing.T) {
	v := viper.New()
	newBenchCmd(v)
	v.Set("concurrency", 0)
	_, err := configFrom(v)
	require.Error(t, err)
}

func TestReport(t *testing.T) {
	pass := []Result{{Status: "PASS"}, {Status: "SKIP"}}
	require.NoError(t, report(pass, false))
	require.ErrorIs(t, report(pass, true), errFailed)
	require.ErrorIs(t, report(append(pass, Result{Status: "FAIL"}), false), errFailed)
}
