package goBankID

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQRCodeFormat(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("5"))
	want := "bankid.t.5." + hex.EncodeToString(mac.Sum(nil))

	if got := QRCode("t", "s", 5); got != want {
		t.Fatalf("QRCode = %q, want %q", got, want)
	}
	if got := QRCode("t", "s", 5); got != want {
		t.Fatal("QRCode must be deterministic")
	}
	if QRCode("t", "s", 6) == want {
		t.Fatal("different elapsed seconds must change the code")
	}

	parts := strings.Split(want, ".")
	if len(parts) != 4 || len(parts[3]) != 64 {
		t.Fatalf("unexpected code layout %q", want)
	}
}

func TestQRCodeKnownVector(t *testing.T) {
	got := QRCode("67df3917-fa0d-44e5-b327-edcc928297f8", "d28db9a7-4cde-429e-a983-359be676944c", 0)
	want := "bankid.67df3917-fa0d-44e5-b327-edcc928297f8.0.dc69358e712458a66a7525beef148ae8526b1c71610eff2c16cdffb4cdac9bf8"
	if got != want {
		t.Fatalf("QRCode = %q, want %q", got, want)
	}
}

func TestQRCodesIdenticalAcrossGenerators(t *testing.T) {
	cache := NewMemoryQRCache()
	start := time.Unix(1_700_000_000, 0)
	if err := cache.Set(context.Background(), "o1", QRCacheEntry{StartTime: start, QRStartToken: "t", QRStartSecret: "s"}, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	at := func() time.Time { return start.Add(5*time.Second + 300*time.Millisecond) }
	a := newQRGenerator(cache, QRConfig{Timeout: time.Minute}, nil, at)
	b := newQRGenerator(cache, QRConfig{Timeout: time.Minute}, nil, at)

	first := func(g *QRGenerator) string {
		seq, err := g.NextQR(context.Background(), "o1", QROptions{MaxCycles: 1})
		if err != nil {
			t.Fatalf("NextQR failed: %v", err)
		}
		for code := range seq {
			return code
		}
		t.Fatal("expected a code")
		return ""
	}

	if ca, cb := first(a), first(b); ca != cb || ca != QRCode("t", "s", 5) {
		t.Fatalf("codes differ: %q vs %q", ca, cb)
	}
}

func TestNextQRBoundedByTimeout(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	cache := newMemoryQRCache(func() time.Time { return start })
	g := newQRGenerator(cache, QRConfig{Timeout: 20 * time.Second, OrderTTL: time.Hour}, nil, steppingClock(start, time.Second))

	if err := g.Seed(context.Background(), "o1", "t", "s"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	seq, err := g.NextQR(context.Background(), "o1", QROptions{})
	if err != nil {
		t.Fatalf("NextQR failed: %v", err)
	}

	var codes []string
	for code := range seq {
		codes = append(codes, code)
		if len(codes) > 100 {
			t.Fatal("sequence did not terminate")
		}
	}
	if len(codes) != 20 {
		t.Fatalf("expected 20 codes, got %d", len(codes))
	}
	if codes[0] != QRCode("t", "s", 1) || codes[19] != QRCode("t", "s", 20) {
		t.Fatal("unexpected first or last code")
	}
}

func TestNextQRBoundedByMaxCycles(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	cache := newMemoryQRCache(func() time.Time { return start })
	g := newQRGenerator(cache, QRConfig{Timeout: time.Minute, OrderTTL: time.Hour}, nil, func() time.Time { return start })

	if err := g.Seed(context.Background(), "o1", "t", "s"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	seq, err := g.NextQR(context.Background(), "o1", QROptions{MaxCycles: 3})
	if err != nil {
		t.Fatalf("NextQR failed: %v", err)
	}
	n := 0
	for range seq {
		n++
	}
	if n != 3 {
		t.Fatalf("expected 3 codes, got %d", n)
	}
}

func TestNextQRNegativeTimeoutNeedsCycleBound(t *testing.T) {
	g := newQRGenerator(nil, QRConfig{Timeout: 10 * time.Second, MaxCycles: 0}, nil, nil)

	cycles, timeout := g.bounds(QROptions{Timeout: -1})
	if cycles != 0 || timeout != 10 {
		t.Fatalf("expected config timeout without a cycle bound, got %d/%d", cycles, timeout)
	}
	cycles, timeout = g.bounds(QROptions{Timeout: -1, MaxCycles: 4})
	if cycles != 4 || timeout != -1 {
		t.Fatalf("expected unbounded time with cycle bound, got %d/%d", cycles, timeout)
	}
}

func TestNextQRIsSingleUse(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	g := newQRGenerator(newMemoryQRCache(func() time.Time { return start }), QRConfig{Timeout: time.Minute, OrderTTL: time.Hour}, nil, func() time.Time { return start })
	if err := g.Seed(context.Background(), "o1", "t", "s"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	seq, err := g.NextQR(context.Background(), "o1", QROptions{MaxCycles: 2})
	if err != nil {
		t.Fatalf("NextQR failed: %v", err)
	}
	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 2 || second != 0 {
		t.Fatalf("expected 2 then 0 codes, got %d then %d", first, second)
	}
}

func TestNextQRUnknownOrderIsEmpty(t *testing.T) {
	g := NewQRGenerator(NewMemoryQRCache(), QRConfig{})

	seq, err := g.NextQR(context.Background(), "missing", QROptions{})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for range seq {
		t.Fatal("expected empty sequence")
	}
}

func TestNextQRStopsWhenContextDone(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	g := newQRGenerator(newMemoryQRCache(func() time.Time { return start }), QRConfig{Timeout: time.Minute, OrderTTL: time.Hour}, nil, func() time.Time { return start })
	if err := g.Seed(context.Background(), "o1", "t", "s"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	seq, err := g.NextQR(ctx, "o1", QROptions{Timeout: -1, MaxCycles: 1000})
	if err != nil {
		t.Fatalf("NextQR failed: %v", err)
	}
	n := 0
	for range seq {
		n++
		if n == 3 {
			cancel()
		}
	}
	if n != 3 {
		t.Fatalf("expected 3 codes before cancellation, got %d", n)
	}
}

func TestSeedValidatesArguments(t *testing.T) {
	g := NewQRGenerator(NewMemoryQRCache(), QRConfig{})

	err := g.Seed(context.Background(), "o1", "", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 || verr.Fields[0] != "qrStartToken" || verr.Fields[1] != "qrStartSecret" {
		t.Fatalf("unexpected fields %v", verr.Fields)
	}
}

func TestNextQRCountsIssuedCodes(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	m := NewMetrics(MetricsConfig{Enabled: true})
	g := newQRGenerator(newMemoryQRCache(func() time.Time { return start }), QRConfig{Timeout: time.Minute, OrderTTL: time.Hour}, m, func() time.Time { return start })
	if err := g.Seed(context.Background(), "o1", "t", "s"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	seq, _ := g.NextQR(context.Background(), "o1", QROptions{MaxCycles: 4})
	for range seq {
	}
	if got := m.Value(MetricQRCodeIssued); got != 4 {
		t.Fatalf("expected 4 issued codes, got %d", got)
	}
}
