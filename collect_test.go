package goBankID

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goBankID/bankidtest"
)

func TestAwaitCollectStopsAtComplete(t *testing.T) {
	tr := newScriptedTransport(
		collectStep{status: StatusPending, hint: HintOutstandingTransaction},
		collectStep{status: StatusPending, hint: HintUserSign},
		collectStep{status: StatusComplete},
	)
	client := newScriptedClient(t, testConfig(), tr, nil)

	resp, err := client.AwaitCollect(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("AwaitCollect failed: %v", err)
	}
	if resp.Status != StatusComplete {
		t.Fatalf("expected complete, got %q", resp.Status)
	}
	if got := tr.count(MethodCollect); got != 3 {
		t.Fatalf("expected exactly 3 collect calls, got %d", got)
	}

	time.Sleep(5 * client.config.Client.RefreshInterval)
	if got := tr.count(MethodCollect); got != 3 {
		t.Fatalf("expected no collect after completion, got %d", got)
	}
	if got := client.metrics.Value(MetricCollectPending); got != 2 {
		t.Fatalf("expected 2 pending observations, got %d", got)
	}
	if got := client.metrics.Value(MetricOrderComplete); got != 1 {
		t.Fatalf("expected order complete metric 1, got %d", got)
	}
}

func TestAwaitCollectSurfacesFailure(t *testing.T) {
	tr := newScriptedTransport(
		collectStep{status: StatusPending, hint: HintOutstandingTransaction},
		collectStep{status: StatusFailed, hint: HintUserCancel},
	)
	client := newScriptedClient(t, testConfig(), tr, nil)

	resp, err := client.AwaitCollect(context.Background(), "order-1")
	if resp != nil {
		t.Fatalf("expected nil result, got %+v", resp)
	}
	if !errors.Is(err, ErrOrderFailed) {
		t.Fatalf("expected ErrOrderFailed, got %v", err)
	}
	var ferr *OrderFailedError
	if !errors.As(err, &ferr) || ferr.HintCode != HintUserCancel || ferr.OrderRef != "order-1" {
		t.Fatalf("unexpected failure %#v", err)
	}
	if ferr.Response == nil || ferr.Response.Status != StatusFailed {
		t.Fatal("expected final collect response on the failure")
	}
	if got := tr.count(MethodCollect); got != 2 {
		t.Fatalf("expected 2 collect calls, got %d", got)
	}
}

func TestAwaitCollectStopsOnCollectError(t *testing.T) {
	boom := &TransportError{Method: MethodCollect, Err: errors.New("connection reset")}
	tr := newScriptedTransport(
		collectStep{status: StatusPending},
		collectStep{err: boom},
		collectStep{status: StatusComplete},
	)
	client := newScriptedClient(t, testConfig(), tr, nil)

	_, err := client.AwaitCollect(context.Background(), "order-1")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if got := tr.count(MethodCollect); got != 2 {
		t.Fatalf("expected polling to stop after the error, got %d calls", got)
	}
	if got := client.metrics.Value(MetricPollAborted); got != 1 {
		t.Fatalf("expected poll aborted metric 1, got %d", got)
	}
}

func TestAwaitCollectStopsOnProtocolError(t *testing.T) {
	rejected := &ProtocolError{Method: MethodCollect, StatusCode: 400, Code: ErrorInvalidParameters, Details: "No such order"}
	tr := newScriptedTransport(
		collectStep{status: StatusPending},
		collectStep{err: rejected},
		collectStep{status: StatusComplete},
	)
	client := newScriptedClient(t, testConfig(), tr, nil)

	resp, err := client.AwaitCollect(context.Background(), "order-1")
	if resp != nil {
		t.Fatalf("expected nil result, got %+v", resp)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr != rejected {
		t.Fatalf("expected the collect error unchanged, got %#v", err)
	}
	if got := tr.count(MethodCollect); got != 2 {
		t.Fatalf("expected polling to stop after the rejection, got %d calls", got)
	}

	time.Sleep(5 * client.config.Client.RefreshInterval)
	if got := tr.count(MethodCollect); got != 2 {
		t.Fatalf("expected no collect after the rejection, got %d", got)
	}
}

func TestAwaitCollectUnknownStatus(t *testing.T) {
	tr := newScriptedTransport(collectStep{status: "bogus"})
	client := newScriptedClient(t, testConfig(), tr, nil)

	_, err := client.AwaitCollect(context.Background(), "order-1")
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if !errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) {
		t.Fatalf("expected unknown status to be a transport error, got %v", err)
	}
}

func TestAwaitCollectHonoursContext(t *testing.T) {
	steps := make([]collectStep, 1000)
	for i := range steps {
		steps[i] = collectStep{status: StatusPending}
	}
	tr := newScriptedTransport(steps...)
	client := newScriptedClient(t, testConfig(), tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.AwaitCollect(ctx, "order-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := client.metrics.Value(MetricPollStopped); got != 1 {
		t.Fatalf("expected poll stopped metric 1, got %d", got)
	}

	calls := tr.count(MethodCollect)
	time.Sleep(5 * client.config.Client.RefreshInterval)
	if got := tr.count(MethodCollect); got != calls {
		t.Fatalf("expected no collect after stop, got %d then %d", calls, got)
	}
}

func TestAwaitCollectFirstPollWaitsOneInterval(t *testing.T) {
	tr := newScriptedTransport(collectStep{status: StatusComplete})
	cfg := testConfig()
	cfg.Client.RefreshInterval = 50 * time.Millisecond
	client := newScriptedClient(t, cfg, tr, nil)

	start := time.Now()
	if _, err := client.AwaitCollect(context.Background(), "order-1"); err != nil {
		t.Fatalf("AwaitCollect failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected first collect after one interval, took %v", elapsed)
	}
}

func TestWatchStop(t *testing.T) {
	steps := make([]collectStep, 1000)
	for i := range steps {
		steps[i] = collectStep{status: StatusPending}
	}
	tr := newScriptedTransport(steps...)
	client := newScriptedClient(t, testConfig(), tr, nil)

	w := client.Watch(context.Background(), "order-1")
	if w.OrderRef() != "order-1" {
		t.Fatalf("unexpected order ref %q", w.OrderRef())
	}
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected watch to finish after Stop")
	}
	if _, err := w.Result(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.count(MethodCancel) != 0 {
		t.Fatal("Stop must not cancel the order remotely")
	}

	calls := tr.count(MethodCollect)
	time.Sleep(5 * client.config.Client.RefreshInterval)
	if got := tr.count(MethodCollect); got != calls {
		t.Fatalf("expected no collect after Stop, got %d then %d", calls, got)
	}
}

func TestWatchWaitBoundedByContext(t *testing.T) {
	steps := make([]collectStep, 1000)
	for i := range steps {
		steps[i] = collectStep{status: StatusPending}
	}
	tr := newScriptedTransport(steps...)
	client := newScriptedClient(t, testConfig(), tr, nil)

	w := client.Watch(context.Background(), "order-1")
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-w.Done():
		t.Fatal("giving up on Wait must not stop polling")
	default:
	}
}

func TestAuthenticateAndCollectAgainstFakeAuthority(t *testing.T) {
	sink := NewChannelSink(16)
	cfg := testConfig()
	cfg.Audit.Enabled = true

	srv := bankidtest.NewServer()
	defer srv.Close()
	srv.SetScript(bankidtest.Pending, bankidtest.UserSign, bankidtest.Complete)
	cfg.Client.BaseURL = srv.URL()

	client, err := New().WithConfig(cfg).WithHTTPClient(srv.Client()).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	resp, err := client.AuthenticateAndCollect(context.Background(), AuthRequest{EndUserIP: "192.0.2.7", PersonalNumber: "199001011234"})
	if err != nil {
		t.Fatalf("AuthenticateAndCollect failed: %v", err)
	}
	if resp.CompletionData == nil || resp.CompletionData.User.PersonalNumber != "199001011234" {
		t.Fatalf("unexpected completion data %+v", resp.CompletionData)
	}
	if resp.CompletionData.Device.IPAddress != "192.0.2.7" {
		t.Fatalf("unexpected device ip %q", resp.CompletionData.Device.IPAddress)
	}
	if got := srv.Calls("collect"); got != 3 {
		t.Fatalf("expected 3 collects, got %d", got)
	}

	seq, err := client.NextQR(context.Background(), resp.OrderRef, QROptions{MaxCycles: 1})
	if err != nil {
		t.Fatalf("NextQR failed: %v", err)
	}
	for range seq {
		t.Fatal("expected QR seed to be forgotten after completion")
	}

	client.Close()
	var types []string
	for len(sink.Events()) > 0 {
		types = append(types, (<-sink.Events()).EventType)
	}
	if len(types) != 2 || types[0] != EventOrderStarted || types[1] != EventOrderCompleted {
		t.Fatalf("unexpected audit events %v", types)
	}
}

func TestSignAndCollectFailure(t *testing.T) {
	client, srv := newFakeClient(t, testConfig())
	srv.SetScript(bankidtest.Pending, bankidtest.Failed("expiredTransaction"))

	_, err := client.SignAndCollect(context.Background(), SignRequest{EndUserIP: "192.0.2.1", UserVisibleData: "hello"})
	var ferr *OrderFailedError
	if !errors.As(err, &ferr) || ferr.HintCode != HintExpiredTransaction {
		t.Fatalf("expected expiredTransaction failure, got %v", err)
	}
}
