package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relay/internal/broker"
	"relay/internal/envelope"
	"relay/internal/health"
	"relay/internal/identity"
	"relay/internal/relay"
	"relay/internal/testutil"
)

// fakeRelay answers every request with a canned result.
type fakeRelay struct {
	mu     sync.Mutex
	calls  []string
	bodies []string
	result *envelope.Result
}

func (f *fakeRelay) Handle(ctx context.Context, method, path string, body []byte) relay.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method+" "+path)
	f.bodies = append(f.bodies, string(body))
	res := f.result
	if res == nil {
		res = envelope.Synthetic("r1", relay.Language, time.Unix(1700000000, 0))
	}
	return relay.Outcome{RequestID: "r1", Result: res, Enqueued: true}
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewRedis(t)
	handler := &Handler{health: health.NewChecker(broker.New(rdb, nil))}

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("health = %d %q, want 200 OK", w.Code, w.Body.String())
	}

	mr.Close()
	w = httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d with broker down, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var response health.Response
	json.NewDecoder(w.Body).Decode(&response)
	if response.Status != health.StatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", response.Status)
	}
}

func TestHandler_Health_NoBroker(t *testing.T) {
	t.Parallel()
	handler := &Handler{health: health.NewChecker(nil)}

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestHandler_Stats(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewRedis(t)
	b := broker.New(rdb, nil)
	ctx := context.Background()
	b.Push(ctx, []byte("x"))
	b.Push(ctx, []byte("y"))
	b.Pop(ctx, time.Second)

	handler := &Handler{stats: b}
	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var stats map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["redis_writes"] != 2 || stats["redis_reads"] != 1 {
		t.Errorf("stats = %v, want 2 writes 1 read", stats)
	}

	mr.Close()
	w = httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 with broker down, got %d", w.Code)
	}
}

func TestHandler_Relay(t *testing.T) {
	t.Parallel()
	res, _ := envelope.NewResult(http.StatusCreated, map[string]string{"Content-Type": "application/json", "X-Extra": "1"}, map[string]string{"ok": "yes"})
	fake := &fakeRelay{result: res}
	handler := &Handler{relay: fake}

	req := httptest.NewRequest(http.MethodPost, "/orders/1", bytes.NewBufferString(`{"n":1}`))
	w := httptest.NewRecorder()
	handler.Relay(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) != "r1" || w.Header().Get("X-Extra") != "1" {
		t.Errorf("headers = %v", w.Header())
	}
	if strings.TrimSpace(w.Body.String()) != `{"ok":"yes"}` {
		t.Errorf("body = %q", w.Body.String())
	}
	if fake.calls[0] != "POST /orders/1" || fake.bodies[0] != `{"n":1}` {
		t.Errorf("relay saw %v %v", fake.calls, fake.bodies)
	}
}

func TestHandler_Relay_BodyTooLarge(t *testing.T) {
	t.Parallel()
	fake := &fakeRelay{}
	handler := &Handler{relay: fake}

	big := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	w := httptest.NewRecorder()
	handler.Relay(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big)))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
	if len(fake.calls) != 0 {
		t.Error("oversized body reached the relay")
	}
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewRedis(t)
	b := broker.New(rdb, nil)
	fake := &fakeRelay{}
	router := NewRouter(RouterConfig{
		Relay:         fake,
		Stats:         b,
		HealthChecker: health.NewChecker(b),
		MaxConcurrent: 4,
	})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/stats", http.StatusOK},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/anything/deep", http.StatusOK},
		{http.MethodPost, "/echo", http.StatusOK},
		{http.MethodDelete, "/echo", http.StatusMethodNotAllowed},
		{http.MethodPut, "/", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.calls) != 3 {
		t.Errorf("relayed calls = %v, want 3", fake.calls)
	}
}

func TestRouter_EndToEndWithBroker(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewRedis(t)
	b := broker.New(rdb, nil)
	svc := relay.NewService(identity.Random{}, relay.NewEnqueuer(b, nil), &relay.FixedDelay{Delay: time.Millisecond}, nil)
	router := NewRouter(RouterConfig{Relay: svc, Stats: b, HealthChecker: health.NewChecker(b)})

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/echo", "application/json", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	id := resp.Header.Get(requestIDHeader)
	if resp.StatusCode != http.StatusOK || body["request_id"] != id || len(id) != 32 {
		t.Errorf("response %d %v id=%q", resp.StatusCode, body, id)
	}

	data, err := b.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	req, err := envelope.DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.ID != id || req.Method != http.MethodPost || req.Path != "/echo" || req.Body != "hi" {
		t.Errorf("queued %+v", req)
	}
}
