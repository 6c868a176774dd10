package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	qrSeedRecordVersion1 = 1
	maxSeedFieldLen      = 65535
)

var (
	ErrQRSeedNotFound = errors.New("qr seed not found")
	ErrQRSeedBackend  = errors.New("qr seed backend unavailable")
	ErrQRSeedCorrupt  = errors.New("qr seed record corrupt")
)

// QRSeed is the persisted form of an order's QR seed. StartUnixMilli is the
// order issuance instant.
type QRSeed struct {
	StartUnixMilli int64
	QRStartToken   string
	QRStartSecret  string
}

type QRSeedStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewQRSeedStore(redisClient redis.UniversalClient, prefix string) *QRSeedStore {
	if prefix == "" {
		prefix = "bqr"
	}
	return &QRSeedStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *QRSeedStore) key(orderRef string) string {
	return s.prefix + ":" + orderRef
}

// Save writes record under orderRef, replacing any previous value. Redis
// removes the key once ttl elapses.
func (s *QRSeedStore) Save(ctx context.Context, orderRef string, record *QRSeed, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("qr seed ttl must be > 0")
	}
	encoded, err := encodeQRSeed(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(orderRef), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQRSeedBackend, err)
	}
	return nil
}

func (s *QRSeedStore) Get(ctx context.Context, orderRef string) (*QRSeed, error) {
	data, err := s.redis.Get(ctx, s.key(orderRef)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQRSeedNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrQRSeedBackend, err)
	}

	record, err := decodeQRSeed(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(orderRef)).Result()
		return nil, fmt.Errorf("%w: %v", ErrQRSeedCorrupt, err)
	}
	return record, nil
}

// Delete removes the seed. It reports whether a key existed.
func (s *QRSeedStore) Delete(ctx context.Context, orderRef string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(orderRef)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQRSeedBackend, err)
	}
	return n > 0, nil
}

func encodeQRSeed(record *QRSeed) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil qr seed")
	}
	if len(record.QRStartToken) > maxSeedFieldLen || len(record.QRStartSecret) > maxSeedFieldLen {
		return nil, errors.New("qr seed field length exceeded")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 8 + 4 + len(record.QRStartToken) + len(record.QRStartSecret))
	buf.WriteByte(qrSeedRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.StartUnixMilli); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.QRStartToken))); err != nil {
		return nil, err
	}
	buf.WriteString(record.QRStartToken)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.QRStartSecret))); err != nil {
		return nil, err
	}
	buf.WriteString(record.QRStartSecret)

	return buf.Bytes(), nil
}

func decodeQRSeed(data []byte) (*QRSeed, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != qrSeedRecordVersion1 {
		return nil, errors.New("invalid qr seed version")
	}

	record := &QRSeed{}
	if err := binary.Read(reader, binary.BigEndian, &record.StartUnixMilli); err != nil {
		return nil, err
	}

	token, err := readField(reader)
	if err != nil {
		return nil, err
	}
	record.QRStartToken = token

	secret, err := readField(reader)
	if err != nil {
		return nil, err
	}
	record.QRStartSecret = secret

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in qr seed")
	}

	return record, nil
}

func readField(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(reader, field); err != nil {
		return "", err
	}
	return string(field), nil
}
