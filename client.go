package goBankID

import (
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const cancelledOrderRetention = 5 * time.Minute

// Client is a BankID relying-party client. Build one with New().Build(); all
// methods are safe for concurrent use.
type Client struct {
	config    Config
	transport Transport
	qr        *QRGenerator
	audit     *auditDispatcher
	metrics   *Metrics
	cancelled *cancelLedger
	cancels   singleflight.Group
}

// Close flushes and stops the audit dispatcher. Orders being awaited are not affected.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.audit != nil {
		c.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (c *Client) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// MetricsSnapshot returns the current counters; empty when metrics are disabled.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return emptySnapshot()
	}
	return c.metrics.Snapshot()
}

// Config returns a copy of the configuration the client was built with.
func (c *Client) Config() Config {
	return cloneConfig(c.config)
}

// QR returns the client's QR generator, or ErrQRDisabled.
func (c *Client) QR() (*QRGenerator, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if c.qr == nil {
		return nil, ErrQRDisabled
	}
	return c.qr, nil
}

// NextQR is shorthand for QR().NextQR.
func (c *Client) NextQR(ctx context.Context, orderRef string, opts QROptions) (iter.Seq[string], error) {
	g, err := c.QR()
	if err != nil {
		return nil, err
	}
	return g.NextQR(ctx, orderRef, opts)
}

// Authenticate starts an authentication order. EndUserIP is required and is
// checked before any network access. With QR support enabled the order's QR
// seed is stored before Authenticate returns.
func (c *Client) Authenticate(ctx context.Context, req AuthRequest) (*OrderResponse, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if strings.TrimSpace(req.EndUserIP) == "" {
		return nil, c.reject(&ValidationError{Method: MethodAuth, Fields: []string{"endUserIp"}})
	}
	return c.startOrder(ctx, MethodAuth, req.EndUserIP, req)
}

// Sign starts a signing order. EndUserIP and UserVisibleData are required.
// The visible and non-visible texts are base64-encoded into the request body;
// req itself is left untouched.
func (c *Client) Sign(ctx context.Context, req SignRequest) (*OrderResponse, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if fields := missing("endUserIp", req.EndUserIP, "userVisibleData", req.UserVisibleData); len(fields) > 0 {
		return nil, c.reject(&ValidationError{Method: MethodSign, Fields: fields})
	}

	payload := signPayload{
		EndUserIP:             req.EndUserIP,
		PersonalNumber:        req.PersonalNumber,
		Requirement:           req.Requirement,
		UserVisibleData:       base64.StdEncoding.EncodeToString([]byte(req.UserVisibleData)),
		UserVisibleDataFormat: req.UserVisibleDataFormat,
	}
	if req.UserNonVisibleData != "" {
		payload.UserNonVisibleData = base64.StdEncoding.EncodeToString([]byte(req.UserNonVisibleData))
	}
	return c.startOrder(ctx, MethodSign, req.EndUserIP, payload)
}

// Collect returns the current state of an order.
func (c *Client) Collect(ctx context.Context, orderRef string) (*CollectResponse, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	if strings.TrimSpace(orderRef) == "" {
		return nil, c.reject(&ValidationError{Method: MethodCollect, Fields: []string{"orderRef"}})
	}

	var resp CollectResponse
	if err := c.call(ctx, MethodCollect, orderRefPayload{OrderRef: orderRef}, &resp); err != nil {
		return nil, err
	}
	if resp.OrderRef == "" {
		resp.OrderRef = orderRef
	}
	return &resp, nil
}

// Cancel cancels an ongoing order at the authority and forgets its QR seed.
// Cancelling an order this client already cancelled within the last five
// minutes returns nil without a request; after that window a repeat reaches
// the authority again. Concurrent cancels of one order share a single request
// and its outcome. Cancel does not stop local polling; see OrderWatch.Stop.
func (c *Client) Cancel(ctx context.Context, orderRef string) error {
	if c == nil {
		return ErrClientNotReady
	}
	if strings.TrimSpace(orderRef) == "" {
		return c.reject(&ValidationError{Method: MethodCancel, Fields: []string{"orderRef"}})
	}

	sent := false
	ch := c.cancels.DoChan(orderRef, func() (any, error) {
		if c.cancelled.seen(orderRef) {
			return nil, nil
		}
		sent = true
		return nil, c.cancelRemote(ctx, orderRef)
	})

	select {
	case res := <-ch:
		if res.Err == nil && !sent {
			c.metrics.Inc(MetricCancelRepeated)
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) cancelRemote(ctx context.Context, orderRef string) error {
	if err := c.call(ctx, MethodCancel, orderRefPayload{OrderRef: orderRef}, nil); err != nil {
		c.audit.Emit(ctx, AuditEvent{
			EventType: EventOrderCancelled,
			Method:    MethodCancel,
			OrderRef:  orderRef,
			Success:   false,
			Error:     err.Error(),
		})
		return err
	}

	c.cancelled.add(orderRef)
	c.metrics.Inc(MetricCancelSuccess)
	c.forgetQR(ctx, orderRef)
	c.audit.Emit(ctx, AuditEvent{
		EventType: EventOrderCancelled,
		Method:    MethodCancel,
		OrderRef:  orderRef,
		Success:   true,
	})
	return nil
}

func (c *Client) startOrder(ctx context.Context, method Method, endUserIP string, payload any) (*OrderResponse, error) {
	var resp OrderResponse
	err := c.call(ctx, method, payload, &resp)
	if err == nil && !resp.complete() {
		err = &TransportError{Method: method, Err: errors.New("incomplete order response")}
		c.metrics.Inc(MetricTransportError)
	}
	if err != nil {
		c.audit.Emit(ctx, AuditEvent{
			EventType: EventOrderStarted,
			Method:    method,
			EndUserIP: endUserIP,
			Success:   false,
			Error:     err.Error(),
		})
		return nil, err
	}

	if method == MethodSign {
		c.metrics.Inc(MetricSignStarted)
	} else {
		c.metrics.Inc(MetricAuthStarted)
	}
	c.seedQR(ctx, &resp)
	c.audit.Emit(ctx, AuditEvent{
		EventType: EventOrderStarted,
		Method:    method,
		OrderRef:  resp.OrderRef,
		EndUserIP: endUserIP,
		Success:   true,
	})
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method Method, request, response any) error {
	start := time.Now()
	err := c.transport.Call(ctx, method, request, response)
	latency := MetricRequestLatency
	if method == MethodCollect {
		latency = MetricCollectLatency
	}
	c.metrics.Observe(latency, time.Since(start))
	if err != nil {
		if id, ok := classify(err); ok {
			c.metrics.Inc(id)
		}
	}
	return err
}

func (c *Client) reject(err *ValidationError) error {
	c.metrics.Inc(MetricValidationRejected)
	return err
}

// seedQR stores the order's QR seed. Cache failures are logged and counted;
// the issued order is still returned to the caller.
func (c *Client) seedQR(ctx context.Context, order *OrderResponse) {
	if c.qr == nil {
		return
	}
	if err := c.qr.Seed(ctx, order.OrderRef, order.QRStartToken, order.QRStartSecret); err != nil {
		c.metrics.Inc(MetricQRSeedFailure)
		log.Printf("goBankID: qr seed store failed: %v", err)
		return
	}
	c.metrics.Inc(MetricQRSeedStored)
}

func (c *Client) forgetQR(ctx context.Context, orderRef string) {
	if c.qr == nil {
		return
	}
	if err := c.qr.Forget(ctx, orderRef); err != nil {
		log.Printf("goBankID: qr seed delete failed: %v", err)
	}
}

// cancelLedger remembers successfully cancelled orders for retention.
type cancelLedger struct {
	mu        sync.Mutex
	refs      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func newCancelLedger(retention time.Duration, now func() time.Time) *cancelLedger {
	return &cancelLedger{
		refs:      make(map[string]time.Time),
		retention: retention,
		now:       now,
	}
}

func (l *cancelLedger) seen(orderRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.refs[orderRef]
	if !ok {
		return false
	}
	if l.now().Sub(at) >= l.retention {
		delete(l.refs, orderRef)
		return false
	}
	return true
}

func (l *cancelLedger) add(orderRef string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for ref, at := range l.refs {
		if now.Sub(at) >= l.retention {
			delete(l.refs, ref)
		}
	}
	l.refs[orderRef] = now
}
