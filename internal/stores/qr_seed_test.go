package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSeedStore(t *testing.T) (*miniredis.Miniredis, *QRSeedStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, NewQRSeedStore(rdb, "")
}

func TestQRSeedEncodeDecode(t *testing.T) {
	in := &QRSeed{StartUnixMilli: 1_700_000_000_123, QRStartToken: "token", QRStartSecret: "secret"}
	data, err := encodeQRSeed(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodeQRSeed(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}

	if _, err := decodeQRSeed(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes to be rejected")
	}
	if _, err := decodeQRSeed(data[:len(data)-1]); err == nil {
		t.Fatal("expected truncated record to be rejected")
	}
	data[0] = 9
	if _, err := decodeQRSeed(data); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

func TestQRSeedStoreSaveGetDelete(t *testing.T) {
	mr, store := newSeedStore(t)
	ctx := context.Background()

	seed := &QRSeed{StartUnixMilli: 42, QRStartToken: "t", QRStartSecret: "s"}
	if err := store.Save(ctx, "o1", seed, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("bqr:o1") {
		t.Fatal("expected default prefix bqr")
	}
	if ttl := mr.TTL("bqr:o1"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}

	got, err := store.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != *seed {
		t.Fatalf("got %+v, want %+v", got, seed)
	}

	existed, err := store.Delete(ctx, "o1")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	existed, err = store.Delete(ctx, "o1")
	if err != nil || existed {
		t.Fatalf("second Delete = %v, %v", existed, err)
	}
	if _, err := store.Get(ctx, "o1"); !errors.Is(err, ErrQRSeedNotFound) {
		t.Fatalf("expected ErrQRSeedNotFound, got %v", err)
	}
}

func TestQRSeedStoreRejectsNonPositiveTTL(t *testing.T) {
	_, store := newSeedStore(t)
	if err := store.Save(context.Background(), "o1", &QRSeed{}, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestQRSeedStoreCorruptRecord(t *testing.T) {
	mr, store := newSeedStore(t)
	_ = mr.Set("bqr:o1", "\x01\x00")

	if _, err := store.Get(context.Background(), "o1"); !errors.Is(err, ErrQRSeedCorrupt) {
		t.Fatalf("expected ErrQRSeedCorrupt, got %v", err)
	}
	if mr.Exists("bqr:o1") {
		t.Fatal("expected corrupt record to be deleted")
	}
}

func TestQRSeedStoreBackendError(t *testing.T) {
	mr, store := newSeedStore(t)
	mr.Close()

	if _, err := store.Get(context.Background(), "o1"); !errors.Is(err, ErrQRSeedBackend) {
		t.Fatalf("expected ErrQRSeedBackend, got %v", err)
	}
}
