package goBankID

import (
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Builder assembles a Client. Configure it once, call Build once.
type Builder struct {
	config     Config
	transport  Transport
	httpClient *http.Client
	redis      redis.UniversalClient
	qrCache    QRCache
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport makes the client send requests through t instead of the
// default HTTP transport. Useful for custom wire stacks and for tests.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithHTTPClient sets the *http.Client of the default transport, typically
// one returned by NewMTLSHTTPClient.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithRedis stores QR seeds in Redis under Config.QR.RedisPrefix so several
// client instances can share them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithQRCache stores QR seeds in cache.
func (b *Builder) WithQRCache(cache QRCache) *Builder {
	b.qrCache = cache
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns the Client. A Builder can
// only build once.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.transport != nil && b.httpClient != nil {
		return nil, errors.New("WithTransport and WithHTTPClient are mutually exclusive")
	}
	if cfg.Client.Production && b.transport == nil && b.httpClient == nil {
		return nil, errors.New("Production mode requires an mTLS http client or a transport")
	}
	if b.qrCache != nil && b.redis != nil {
		return nil, errors.New("WithQRCache and WithRedis are mutually exclusive")
	}
	if !cfg.QR.Enabled && (b.qrCache != nil || b.redis != nil) {
		return nil, errors.New("QR cache requires QR Enabled")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TRANSPORT --------
	transport := b.transport
	if transport == nil {
		httpClient := b.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: cfg.Client.RequestTimeout}
		}
		transport = NewHTTPTransport(cfg.BaseURL(), httpClient)
	}

	client := &Client{
		config:    cloneConfig(cfg),
		transport: transport,
		metrics:   NewMetrics(cfg.Metrics),
		cancelled: newCancelLedger(cancelledOrderRetention, now),
	}

	// -------- QR --------
	if cfg.QR.Enabled {
		cache := b.qrCache
		switch {
		case cache != nil:
		case b.redis != nil:
			cache = NewRedisQRCache(b.redis, cfg.QR.RedisPrefix)
		default:
			cache = newMemoryQRCache(now)
		}
		client.qr = newQRGenerator(cache, cfg.QR, client.metrics, now)
	}

	client.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	b.built = true

	return client, nil
}
