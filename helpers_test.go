package goBankID

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goBankID/bankidtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Client.RefreshInterval = 5 * time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

// newFakeClient builds a client against a fresh fake authority.
func newFakeClient(t *testing.T, cfg Config) (*Client, *bankidtest.Server) {
	t.Helper()

	srv := bankidtest.NewServer()
	cfg.Client.BaseURL = srv.URL()

	client, err := New().
		WithConfig(cfg).
		WithHTTPClient(srv.Client()).
		Build()
	if err != nil {
		srv.Close()
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return client, srv
}

type transportCall struct {
	method  Method
	request any
}

// scriptedTransport answers collect from a fixed list and records every call.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    []transportCall
	collects []collectStep
	order    OrderResponse
	errs     map[Method]error
}

type collectStep struct {
	status Status
	hint   HintCode
	err    error
}

func newScriptedTransport(steps ...collectStep) *scriptedTransport {
	return &scriptedTransport{
		collects: steps,
		order: OrderResponse{
			OrderRef:       "order-1",
			AutoStartToken: "auto-1",
			QRStartToken:   "qr-token-1",
			QRStartSecret:  "qr-secret-1",
		},
		errs: map[Method]error{},
	}
}

func (s *scriptedTransport) Call(ctx context.Context, method Method, request any, response any) error {
	s.mu.Lock()
	s.calls = append(s.calls, transportCall{method: method, request: request})
	err := s.errs[method]
	var step collectStep
	exhausted := false
	if method == MethodCollect && err == nil {
		if len(s.collects) == 0 {
			exhausted = true
		} else {
			step = s.collects[0]
			s.collects = s.collects[1:]
		}
	}
	order := s.order
	s.mu.Unlock()

	if err != nil {
		return err
	}
	switch method {
	case MethodAuth, MethodSign:
		*response.(*OrderResponse) = order
	case MethodCollect:
		if exhausted {
			return errors.New("collect script exhausted")
		}
		if step.err != nil {
			return step.err
		}
		*response.(*CollectResponse) = CollectResponse{
			OrderRef: order.OrderRef,
			Status:   step.status,
			HintCode: step.hint,
		}
	}
	return nil
}

func (s *scriptedTransport) count(method Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (s *scriptedTransport) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newScriptedClient(t *testing.T, cfg Config, tr Transport, sink AuditSink) *Client {
	t.Helper()

	client, err := New().
		WithConfig(cfg).
		WithTransport(tr).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
