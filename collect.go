package goBankID

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthenticateAndCollect starts an authentication order and awaits its outcome.
func (c *Client) AuthenticateAndCollect(ctx context.Context, req AuthRequest) (*CollectResponse, error) {
	order, err := c.Authenticate(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.AwaitCollect(ctx, order.OrderRef)
}

// SignAndCollect starts a signing order and awaits its outcome.
func (c *Client) SignAndCollect(ctx context.Context, req SignRequest) (*CollectResponse, error) {
	order, err := c.Sign(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.AwaitCollect(ctx, order.OrderRef)
}

// AwaitCollect polls collect for orderRef every Config.Client.RefreshInterval
// until the order leaves pending, and returns exactly one outcome:
//
//   - complete: the final collect result and a nil error.
//   - failed: a nil result and an *OrderFailedError carrying the hint code.
//   - collect error: that error, unchanged. Polling is not retried.
//   - ctx done: ctx.Err(). The order itself stays alive at the authority.
//
// The next collect is only scheduled after the previous one returned, and the
// timer is released on every path. There is no built-in deadline; bound the
// wait through ctx. A terminal status also forgets the order's QR seed.
func (c *Client) AwaitCollect(ctx context.Context, orderRef string) (*CollectResponse, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if strings.TrimSpace(orderRef) == "" {
		return nil, c.reject(&ValidationError{Method: MethodCollect, Fields: []string{"orderRef"}})
	}

	c.metrics.Inc(MetricPollStarted)
	resp, err := c.poll(ctx, orderRef)
	c.settle(ctx, orderRef, err)
	return resp, err
}

func (c *Client) poll(ctx context.Context, orderRef string) (*CollectResponse, error) {
	interval := c.config.Client.RefreshInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		resp, err := c.Collect(ctx, orderRef)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		switch resp.Status {
		case StatusPending:
			c.metrics.Inc(MetricCollectPending)
		case StatusComplete:
			return resp, nil
		case StatusFailed:
			return nil, &OrderFailedError{OrderRef: orderRef, HintCode: resp.HintCode, Response: resp}
		default:
			c.metrics.Inc(MetricTransportError)
			return nil, &TransportError{Method: MethodCollect, Err: fmt.Errorf("%w: %q", ErrUnexpectedStatus, resp.Status)}
		}

		timer.Reset(interval)
	}
}

// settle records the outcome of one AwaitCollect.
func (c *Client) settle(ctx context.Context, orderRef string, err error) {
	// The caller's ctx may already be cancelled; bookkeeping still has to run.
	bg := context.WithoutCancel(ctx)

	event := AuditEvent{Method: MethodCollect, OrderRef: orderRef}
	var failed *OrderFailedError
	switch {
	case err == nil:
		c.metrics.Inc(MetricOrderComplete)
		c.forgetQR(bg, orderRef)
		event.EventType = EventOrderCompleted
		event.Success = true
	case errors.As(err, &failed):
		c.metrics.Inc(MetricOrderFailed)
		c.forgetQR(bg, orderRef)
		event.EventType = EventOrderFailed
		event.HintCode = failed.HintCode
		event.Error = err.Error()
	case err == context.Canceled || err == context.DeadlineExceeded:
		c.metrics.Inc(MetricPollStopped)
		event.EventType = EventPollStopped
		event.Error = err.Error()
	default:
		c.metrics.Inc(MetricPollAborted)
		event.EventType = EventCollectError
		event.Error = err.Error()
	}
	c.audit.Emit(bg, event)
}

// OrderWatch is an order being awaited in the background. Its outcome is
// produced exactly once and can be read any number of times.
type OrderWatch struct {
	orderRef string
	stop     context.CancelFunc
	done     chan struct{}
	resp     *CollectResponse
	err      error
}

// Watch runs AwaitCollect for orderRef in its own goroutine. Stop ends the
// local polling without touching the order at the authority; use Client.Cancel
// for that.
func (c *Client) Watch(ctx context.Context, orderRef string) *OrderWatch {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &OrderWatch{
		orderRef: orderRef,
		stop:     cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer cancel()
		w.resp, w.err = c.AwaitCollect(ctx, orderRef)
		close(w.done)
	}()
	return w
}

func (w *OrderWatch) OrderRef() string {
	return w.orderRef
}

// Done is closed once the outcome is available.
func (w *OrderWatch) Done() <-chan struct{} {
	return w.done
}

// Stop ends local polling. The outcome becomes context.Canceled unless the
// order had already settled. Safe to call more than once.
func (w *OrderWatch) Stop() {
	w.stop()
}

// Result blocks until the outcome is available.
func (w *OrderWatch) Result() (*CollectResponse, error) {
	<-w.done
	return w.resp, w.err
}

// Wait is Result bounded by ctx. Giving up on the wait does not stop polling.
func (w *OrderWatch) Wait(ctx context.Context) (*CollectResponse, error) {
	select {
	case <-w.done:
		return w.resp, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
