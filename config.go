package goBankID

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	// TestBaseURL is the relying-party API root of the BankID test environment.
	TestBaseURL = "https://appapi2.test.bankid.com/rp/v5.1/"
	// ProductionBaseURL is the relying-party API root of the BankID production environment.
	ProductionBaseURL = "https://appapi2.bankid.com/rp/v5.1/"
)

// Config holds every tunable of a Client. Obtain one from DefaultConfig,
// adjust it, and hand it to Builder.WithConfig. The builder copies it.
type Config struct {
	Client  ClientConfig
	QR      QRConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
CLIENT CONFIG
====================================
*/

// ClientConfig selects the environment and the polling cadence.
type ClientConfig struct {
	// Production selects ProductionBaseURL instead of TestBaseURL.
	Production bool
	// BaseURL overrides the environment URL when set. Must be absolute.
	BaseURL string
	// RefreshInterval is the delay between two collect calls of an awaited order.
	RefreshInterval time.Duration
	// RequestTimeout bounds a single HTTP exchange of the default transport.
	RequestTimeout time.Duration
}

/*
====================================
QR CONFIG
====================================
*/

// QRConfig enables QR seeding and bounds the generated code sequences.
type QRConfig struct {
	Enabled bool
	// Timeout is the default time bound of a NextQR sequence, in whole seconds.
	Timeout time.Duration
	// MaxCycles is the default cycle bound of a NextQR sequence. 0 means unbounded.
	MaxCycles int
	// OrderTTL is how long a seed stays in the cache when nobody deletes it.
	OrderTTL time.Duration
	// RedisPrefix namespaces seed keys when the cache is Redis-backed.
	RedisPrefix string
}

// AuditConfig controls the asynchronous lifecycle event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// FlushTimeout bounds how long Client.Close waits for queued events to
	// reach the sink. 0 waits indefinitely.
	FlushTimeout time.Duration
}

// MetricsConfig controls in-process counters and the request latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when Builder.WithConfig is not called:
// test environment, 2s polling, QR support on with a 60s window.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Client: ClientConfig{
			Production:      false,
			RefreshInterval: 2 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		QR: QRConfig{
			Enabled:     true,
			Timeout:     60 * time.Second,
			MaxCycles:   0,
			OrderTTL:    60 * time.Second,
			RedisPrefix: "bqr",
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			FlushTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Client.BaseURL = strings.TrimSpace(cfg.Client.BaseURL)
	return out
}

// BaseURL returns the API root the client talks to, always ending in "/".
func (c *Config) BaseURL() string {
	base := c.Client.BaseURL
	if base == "" {
		if c.Client.Production {
			base = ProductionBaseURL
		} else {
			base = TestBaseURL
		}
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting, or nil.
func (c *Config) Validate() error {
	// Client
	if c.Client.RefreshInterval <= 0 {
		return errors.New("Client RefreshInterval must be > 0")
	}
	if c.Client.RequestTimeout < 0 {
		return errors.New("Client RequestTimeout must be >= 0")
	}
	if c.Client.BaseURL != "" {
		u, err := url.Parse(c.Client.BaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return errors.New("Client BaseURL must be an absolute URL")
		}
		if c.Client.Production && u.Scheme != "https" {
			return errors.New("Client BaseURL must use https in production")
		}
	}

	// QR
	if c.QR.Enabled {
		if c.QR.Timeout < time.Second {
			return errors.New("QR Timeout must be >= 1s")
		}
		if c.QR.MaxCycles < 0 {
			return errors.New("QR MaxCycles must be >= 0")
		}
		if c.QR.OrderTTL <= 0 {
			return errors.New("QR OrderTTL must be > 0")
		}
		if strings.TrimSpace(c.QR.RedisPrefix) == "" {
			return errors.New("QR RedisPrefix must not be empty")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.FlushTimeout < 0 {
		return errors.New("Audit FlushTimeout must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
