// README: Bench cases; environment checks, the delivery flow, claim races and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lastmile/migrations"
)

const (
	adminToken    = "admin:bench-admin"
	customerToken = "customer:bench-customer"
	customerID    = "bench-customer"
)

var destination = map[string]float64{"lat": -1.2921, "lng": 36.8219}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// order under test for the sequential flow cases
	orderID string
	winner  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{"Env: Postgres connect", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "SKIP", Note: "dsn not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Env: Redis connect", func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: "SKIP", Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: apply (optional)", func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return Result{Status: "SKIP", Note: "apply-migration=false"}
			}
			if r.db == nil {
				return Result{Status: "FAIL", Note: "db not configured"}
			}
			if err := migrations.Apply(ctx, r.db); err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			return Result{Status: "PASS"}
		}},
		{"Migration: tables exist", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "SKIP", Note: "dsn not configured"}
			}
			for _, t := range []string{"orders", "order_state_events"} {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if !exists {
					return Result{Status: "FAIL", Note: "missing table: " + t}
				}
			}
			return Result{Status: "PASS"}
		}},
		{"API: health", func(ctx context.Context, r *Runner) Result {
			res, _ := r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
			return res
		}},
		{"Order: intake", func(ctx context.Context, r *Runner) Result {
			id, res := r.createOrder(ctx)
			r.orderID = id
			return res
		}},
		{"Order: intake missing customer -> 400", func(ctx context.Context, r *Runner) Result {
			res, _ := r.expect(ctx, http.MethodPost, "/api/admin/orders", adminToken,
				map[string]any{"destination": destination}, http.StatusBadRequest)
			return res
		}},
		{"Order: broadcast", func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return Result{Status: "SKIP", Note: "no order"}
			}
			res, _ := r.expect(ctx, http.MethodPost, "/api/admin/orders/"+r.orderID+"/broadcast", adminToken,
				map[string]string{"summary": "bench"}, http.StatusOK)
			return res
		}},
		{"Concurrency: many drivers claim one order", func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" {
				return Result{Status: "SKIP", Note: "no order"}
			}
			return r.concurrentClaim(ctx, r.orderID)
		}},
		{"Cancel: en route -> 409", func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: "SKIP", Note: "no claimed order"}
			}
			res, _ := r.expect(ctx, http.MethodPost, "/api/orders/"+r.orderID+"/cancel", customerToken, nil, http.StatusConflict)
			return res
		}},
		{"Tracking: snapshot", func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: "SKIP", Note: "no claimed order"}
			}
			res, _ := r.expect(ctx, http.MethodGet, "/api/orders/"+r.orderID+"/tracking", customerToken, nil, http.StatusOK)
			return res
		}},
		{"Perf: location update throughput", func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: "SKIP", Note: "no claimed order"}
			}
			return r.perfLoad(ctx, "/api/drivers/orders/"+r.orderID+"/location", "driver:"+r.winner,
				map[string]float64{"lat": destination["lat"] + 0.01, "lng": destination["lng"], "speed": 25})
		}},
		{"Order: driver confirms delivery", func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: "SKIP", Note: "no claimed order"}
			}
			res, _ := r.expect(ctx, http.MethodPost, "/api/drivers/orders/"+r.orderID+"/status", "driver:"+r.winner,
				map[string]string{"status": "delivered"}, http.StatusOK)
			return res
		}},
		{"Order: delivered cannot transition", func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: "SKIP", Note: "no claimed order"}
			}
			res, _ := r.expect(ctx, http.MethodPost, "/api/admin/orders/"+r.orderID+"/status", adminToken,
				map[string]string{"status": "packed"}, http.StatusConflict)
			return res
		}},
		{"Concurrency: claim vs cancel", func(ctx context.Context, r *Runner) Result {
			return r.claimVersusCancel(ctx)
		}},
		{"Perf: order intake throughput", func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, "/api/admin/orders", adminToken,
				map[string]any{"customerId": customerID, "destination": destination})
		}},
	}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, time.Since(start), nil
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) (Result, []byte) {
	code, data, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}, nil
	}
	if code != want {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d body=%s", code, data)}, data
	}
	return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", code)}, data
}

func (r *Runner) createOrder(ctx context.Context) (string, Result) {
	res, data := r.expect(ctx, http.MethodPost, "/api/admin/orders", adminToken,
		map[string]any{"customerId": customerID, "destination": destination}, http.StatusCreated)
	if res.Status != "PASS" {
		return "", res
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.OrderID == "" {
		return "", Result{Status: "FAIL", Note: "no order id in response"}
	}
	res.Note += " id=" + out.OrderID
	return out.OrderID, res
}

// concurrentClaim fires one claim per simulated driver at the same time and
// expects exactly one winner with every loser told the order is taken.
func (r *Runner) concurrentClaim(ctx context.Context, orderID string) Result {
	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners, taken, other := []string{}, 0, 0

	for i := 0; i < r.cfg.Concurrency; i++ {
		driverID := fmt.Sprintf("bench-driver-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			code, _, _, err := r.do(ctx, http.MethodPost, "/api/drivers/orders/"+orderID+"/claim", "driver:"+driverID,
				map[string]string{"name": driverID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other++
			case code == http.StatusOK:
				winners = append(winners, driverID)
			case code == http.StatusConflict:
				taken++
			default:
				other++
			}
		}()
	}
	begin := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("winners=%d taken=%d other=%d", len(winners), taken, other)
	if len(winners) != 1 || other != 0 {
		return Result{Status: "FAIL", Latency: time.Since(begin), Note: note}
	}
	r.winner = winners[0]
	return Result{Status: "PASS", Latency: time.Since(begin), Note: note}
}

func (r *Runner) claimVersusCancel(ctx context.Context) Result {
	id, res := r.createOrder(ctx)
	if id == "" {
		return res
	}
	if res, _ := r.expect(ctx, http.MethodPost, "/api/admin/orders/"+id+"/broadcast", adminToken, nil, http.StatusOK); res.Status != "PASS" {
		return res
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	var claimCode, cancelCode int
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		claimCode, _, _, _ = r.do(ctx, http.MethodPost, "/api/drivers/orders/"+id+"/claim", "driver:bench-racer", nil)
	}()
	go func() {
		defer wg.Done()
		<-start
		cancelCode, _, _, _ = r.do(ctx, http.MethodPost, "/api/orders/"+id+"/cancel", customerToken, nil)
	}()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("claim=%d cancel=%d", claimCode, cancelCode)
	if (claimCode == http.StatusOK) == (cancelCode == http.StatusOK) {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Note: note}
}

func (r *Runner) perfLoad(ctx context.Context, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, _, err := r.do(ctx, http.MethodPost, path, token, payload)
				if err != nil || code >= 300 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no requests completed, errors=%d", errCount.Load())}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}
