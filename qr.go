package goBankID

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"iter"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const qrCodePrefix = "bankid."

// QRCode derives the animated QR payload for one point in time:
//
//	bankid.<qrStartToken>.<elapsedSeconds>.<hex(HMAC-SHA256(qrStartSecret, elapsedSeconds))>
//
// The result depends on nothing but its arguments.
func QRCode(qrStartToken, qrStartSecret string, elapsedSeconds int64) string {
	seconds := strconv.FormatInt(elapsedSeconds, 10)

	mac := hmac.New(sha256.New, []byte(qrStartSecret))
	_, _ = mac.Write([]byte(seconds))
	sum := mac.Sum(nil)

	var b strings.Builder
	b.Grow(len(qrCodePrefix) + len(qrStartToken) + len(seconds) + 2 + hex.EncodedLen(len(sum)))
	b.WriteString(qrCodePrefix)
	b.WriteString(qrStartToken)
	b.WriteByte('.')
	b.WriteString(seconds)
	b.WriteByte('.')
	b.WriteString(hex.EncodeToString(sum))
	return b.String()
}

// QROptions bounds one NextQR sequence. Zero values fall back to QRConfig.
// A negative Timeout removes the time bound, but only when MaxCycles > 0.
type QROptions struct {
	MaxCycles int
	Timeout   time.Duration
}

// QRGenerator seeds a QRCache with order seeds and turns them into code
// sequences. It keeps no per-order state itself, so any number of generators
// sharing a cache produce identical codes for the same elapsed time.
type QRGenerator struct {
	cache   QRCache
	cfg     QRConfig
	metrics *Metrics
	now     func() time.Time
}

// NewQRGenerator returns a generator over cache. A display process that only
// renders codes can build one over the same Redis cache the issuing client uses.
func NewQRGenerator(cache QRCache, cfg QRConfig) *QRGenerator {
	return newQRGenerator(cache, cfg, nil, time.Now)
}

func newQRGenerator(cache QRCache, cfg QRConfig, metrics *Metrics, now func() time.Time) *QRGenerator {
	if cache == nil {
		cache = NewMemoryQRCache()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = cfg.Timeout
	}
	if cfg.MaxCycles < 0 {
		cfg.MaxCycles = 0
	}
	if now == nil {
		now = time.Now
	}
	return &QRGenerator{cache: cache, cfg: cfg, metrics: metrics, now: now}
}

// Seed records the QR seed of a freshly issued order, stamped with the
// current time. It expires after QRConfig.OrderTTL.
func (g *QRGenerator) Seed(ctx context.Context, orderRef, qrStartToken, qrStartSecret string) error {
	if orderRef == "" || qrStartToken == "" || qrStartSecret == "" {
		return &ValidationError{Method: "qr", Fields: missing(
			"orderRef", orderRef,
			"qrStartToken", qrStartToken,
			"qrStartSecret", qrStartSecret,
		)}
	}
	entry := QRCacheEntry{
		StartTime:     g.now(),
		QRStartToken:  qrStartToken,
		QRStartSecret: qrStartSecret,
	}
	return g.cache.Set(ctx, orderRef, entry, g.cfg.OrderTTL)
}

// Forget deletes the seed of orderRef. Sequences already handed out keep working.
func (g *QRGenerator) Forget(ctx context.Context, orderRef string) error {
	return g.cache.Delete(ctx, orderRef)
}

// NextQR reads the seed of orderRef once and returns a lazy, finite sequence
// of codes. Each step recomputes the elapsed whole seconds since the order
// was issued; the sequence ends when the cycle bound is reached, the elapsed
// time exceeds the timeout, or ctx is done. It does not sleep: the caller
// paces consumption.
//
// An unknown or expired orderRef yields an empty sequence and a nil error.
// The returned sequence is single-use; call NextQR again for a new one.
func (g *QRGenerator) NextQR(ctx context.Context, orderRef string, opts QROptions) (iter.Seq[string], error) {
	entry, err := g.cache.Get(ctx, orderRef)
	if err != nil {
		if errors.Is(err, ErrQRCacheMiss) {
			return func(func(string) bool) {}, nil
		}
		return nil, err
	}

	maxCycles, timeoutSeconds := g.bounds(opts)
	seed := *entry

	var used atomic.Bool
	return func(yield func(string) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for i := 0; ; i++ {
			if ctx.Err() != nil {
				return
			}
			elapsed := elapsedSeconds(g.now(), seed.StartTime)
			if maxCycles > 0 && i >= maxCycles {
				return
			}
			if timeoutSeconds >= 0 && elapsed > timeoutSeconds {
				return
			}
			code := QRCode(seed.QRStartToken, seed.QRStartSecret, elapsed)
			g.metrics.Inc(MetricQRCodeIssued)
			if !yield(code) {
				return
			}
		}
	}, nil
}

// bounds resolves the cycle bound (0 = none) and the timeout in whole seconds
// (-1 = none).
func (g *QRGenerator) bounds(opts QROptions) (int, int64) {
	maxCycles := opts.MaxCycles
	if maxCycles <= 0 {
		maxCycles = g.cfg.MaxCycles
	}

	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = g.cfg.Timeout
	case timeout < 0 && maxCycles <= 0:
		timeout = g.cfg.Timeout
	}
	if timeout < 0 {
		return maxCycles, -1
	}
	return maxCycles, int64(timeout / time.Second)
}

func elapsedSeconds(now, start time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// missing returns the names of empty values from name/value pairs.
func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}
