//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"relay/internal/api"
	"relay/internal/broker"
	"relay/internal/health"
	"relay/internal/identity"
	"relay/internal/observability"
	"relay/internal/relay"
	"relay/internal/testutil"
	"relay/internal/worker"

	"github.com/redis/go-redis/v9"
)

type stack struct {
	proxy  *httptest.Server
	broker *broker.Broker
	ids    *identity.Sequential
	pool   *worker.Pool
}

// newBrokerClient uses E2E_BROKER_ADDR when set, otherwise an in-process Redis.
func newBrokerClient(tb testing.TB) redis.UniversalClient {
	tb.Helper()
	if addr := os.Getenv("E2E_BROKER_ADDR"); addr != "" {
		tb.Logf("Using external broker: %s", addr)
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		tb.Cleanup(func() { rdb.Close() })
		return rdb
	}
	_, rdb := testutil.NewRedis(tb)
	return rdb
}

func newStack(t testing.TB, downstream http.Handler) *stack {
	t.Helper()
	ctx := context.Background()

	proxyMetrics, _, err := observability.NewMetrics(ctx, observability.RoleProxy)
	if err != nil {
		t.Fatalf("proxy metrics: %v", err)
	}
	workerMetrics, _, err := observability.NewMetrics(ctx, observability.RoleWorker)
	if err != nil {
		t.Fatalf("worker metrics: %v", err)
	}

	rdb := newBrokerClient(t)
	proxyBroker := broker.New(rdb, proxyMetrics)
	workerBroker := broker.New(rdb, workerMetrics)

	down := httptest.NewServer(downstream)
	t.Cleanup(down.Close)

	processor := worker.NewProcessor(
		worker.NewCaller(worker.CallerConfig{BaseURL: down.URL, Timeout: 5 * time.Second}, workerMetrics),
		worker.NewPublisher(workerBroker, time.Minute, workerMetrics),
		nil, workerMetrics,
	)
	pool := worker.NewPool(workerBroker, processor, worker.PoolConfig{Workers: 4, PopTimeout: time.Second}, workerMetrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Close(ctx)
	})

	ids := identity.NewSequential(ctx, proxyBroker, 100)
	svc := relay.NewService(ids,
		relay.NewEnqueuer(proxyBroker, proxyMetrics),
		relay.NewResultWaiter(proxyBroker, relay.WaiterConfig{Timeout: 10 * time.Second}, proxyMetrics),
		proxyMetrics,
	)
	router := api.NewRouter(api.RouterConfig{
		Relay:         svc,
		Stats:         proxyBroker,
		HealthChecker: health.NewChecker(proxyBroker),
		Metrics:       proxyMetrics,
		MaxConcurrent: 64,
	})
	proxy := httptest.NewServer(router)
	t.Cleanup(proxy.Close)

	return &stack{proxy: proxy, broker: proxyBroker, ids: ids, pool: pool}
}

func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
}

func TestRelay_PostReturnsDownstreamResponse(t *testing.T) {
	s := newStack(t, echo())

	resp, err := http.Post(s.proxy.URL+"/echo", "application/json", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["downstream_response"] != "hi" {
		t.Errorf("body = %v, want downstream echo", body)
	}
	if body["request_id"] != resp.Header.Get("X-Request-Id") {
		t.Errorf("request_id %v does not match header %q", body["request_id"], resp.Header.Get("X-Request-Id"))
	}
}

func TestRelay_GetIsAcknowledged(t *testing.T) {
	s := newStack(t, echo())

	resp, err := http.Get(s.proxy.URL + "/items")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["language"] != relay.Language {
		t.Fatalf("response %d %v, want synthetic acknowledgement", resp.StatusCode, body)
	}

	id, _ := body["request_id"].(string)
	testutil.MustWaitFor(t, func() bool { return s.pool.Stats().Dropped >= 1 })
	if _, err := s.broker.GetResult(context.Background(), id); !errors.Is(err, broker.ErrNotFound) {
		t.Errorf("GetResult(%s) = %v, want ErrNotFound for a GET", id, err)
	}
}

func TestRelay_DownstreamDown(t *testing.T) {
	s := newStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))

	resp, err := http.Post(s.proxy.URL+"/echo", "application/json", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 from worker", resp.StatusCode)
	}
}

func TestRelay_ConcurrentSequentialIDs(t *testing.T) {
	s := newStack(t, echo())

	const clients, perClient = 8, 10
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				resp, err := http.Post(s.proxy.URL+"/echo", "application/json", strings.NewReader(fmt.Sprintf("%d-%d", c, i)))
				if err != nil {
					t.Errorf("POST: %v", err)
					return
				}
				id := resp.Header.Get("X-Request-Id")
				resp.Body.Close()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(seen) != clients*perClient {
		t.Errorf("unique ids = %d, want %d", len(seen), clients*perClient)
	}
	if s.ids.Current() < clients*perClient {
		t.Errorf("counter = %d, want at least %d", s.ids.Current(), clients*perClient)
	}
}

func TestRelay_HealthAndStats(t *testing.T) {
	s := newStack(t, echo())

	resp, err := http.Get(s.proxy.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}

	post, err := http.Post(s.proxy.URL+"/echo", "application/json", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	post.Body.Close()

	resp, err = http.Get(s.proxy.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	var stats broker.Stats
	json.NewDecoder(resp.Body).Decode(&stats)
	// One push plus one result write; one pop plus one result read.
	if stats.Writes < 2 || stats.Reads < 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func BenchmarkRelay_Post(b *testing.B) {
	s := newStack(b, echo())
	client := &http.Client{Timeout: 10 * time.Second}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := client.Post(s.proxy.URL+"/echo", "application/json", strings.NewReader("bench"))
			if err != nil {
				b.Error(err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b.Errorf("status = %d", resp.StatusCode)
				return
			}
		}
	})
}
