// README: Smoke and load runner against a live dispatch API started with auth.mode=dev.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errFailed = errors.New("bench failed")

func main() {
	if err := newBenchCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

// newBenchCmd binds every flag to LASTMILE_BENCH_<FLAG>; the database and
// Redis addresses also fall back to the service's own variables.
func newBenchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bench",
		Short:         "Run smoke, claim-race and throughput cases against a running API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(v)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			return report(NewRunner(cfg).RunAll(ctx), cfg.Strict)
		},
	}

	f := cmd.Flags()
	f.String("base-url", "http://localhost:8080", "API base URL")
	f.String("dsn", "", "Postgres DSN (optional)")
	f.String("redis", "", "Redis address (optional)")
	f.Bool("apply-migration", false, "Apply embedded migrations before tests")
	f.Bool("strict", false, "Fail on skipped cases")
	f.Duration("timeout", 60*time.Second, "Total timeout")
	f.Int("concurrency", 20, "Concurrent drivers / workers")
	f.Duration("duration", 10*time.Second, "Duration for perf cases")

	_ = v.BindPFlags(f)
	v.SetEnvPrefix("LASTMILE_BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("dsn", "LASTMILE_BENCH_DSN", "LASTMILE_DB_DSN")
	_ = v.BindEnv("redis", "LASTMILE_BENCH_REDIS", "LASTMILE_REDIS_ADDR")
	return cmd
}

func configFrom(v *viper.Viper) (Config, error) {
	cfg := Config{
		BaseURL:        strings.TrimRight(v.GetString("base-url"), "/"),
		DSN:            v.GetString("dsn"),
		RedisAddr:      v.GetString("redis"),
		ApplyMigration: v.GetBool("apply-migration"),
		Strict:         v.GetBool("strict"),
		Timeout:        v.GetDuration("timeout"),
		Concurrency:    v.GetInt("concurrency"),
		Duration:       v.GetDuration("duration"),
	}
	if cfg.BaseURL == "" {
		return Config{}, errors.New("base-url is required")
	}
	if cfg.Concurrency <= 0 {
		return Config{}, errors.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Timeout <= 0 || cfg.Duration <= 0 {
		return Config{}, errors.New("timeout and duration must be positive")
	}
	return cfg, nil
}

// report prints the tally and fails on any FAIL, or on SKIP in strict mode.
func report(results []Result, strict bool) error {
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	fmt.Println("\n== Summary ==")
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", counts["PASS"], counts["FAIL"], counts["SKIP"])

	if counts["FAIL"] > 0 {
		return errors.Wrapf(errFailed, "%d failing cases", counts["FAIL"])
	}
	if strict && counts["SKIP"] > 0 {
		return errors.Wrapf(errFailed, "%d skipped cases in strict mode", counts["SKIP"])
	}
	return nil
}
