package ingest

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/jobq/pkg/clientip"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/ratelimiter"
)

// Config holds the ingest settings loaded from the environment
type Config struct {
	MasterKey        string        `env:"INGEST_MASTER_KEY,required"`                       // MasterKey is the hex or base64 32-byte key that per-source keys derive from.
	Sources          []string      `env:"INGEST_SOURCES" envSeparator:","`                  // Sources restricts accepted sources; empty accepts any well-formed name.
	MaxBodyBytes     int64         `env:"INGEST_MAX_BODY_BYTES" envDefault:"1048576"`       // MaxBodyBytes is the payload ceiling; larger bodies get 413.
	SignatureMaxAge  time.Duration `env:"INGEST_SIGNATURE_MAX_AGE" envDefault:"5m"`         // SignatureMaxAge bounds the signed timestamp's age.
	RateLimit        int           `env:"INGEST_RATE_LIMIT" envDefault:"120"`               // RateLimit is the number of requests per sender per window.
	RateWindow       time.Duration `env:"INGEST_RATE_WINDOW" envDefault:"1m"`               // RateWindow is the fixed rate limit window.
	Priority         int           `env:"INGEST_PRIORITY" envDefault:"3"`                   // Priority of scheduled inbound jobs.
	EventIDHeader    string        `env:"INGEST_EVENT_ID_HEADER" envDefault:"X-Webhook-ID"` // EventIDHeader carries the sender's unique event ID.
	TrustedIPHeaders []string      `env:"INGEST_TRUSTED_IP_HEADERS" envSeparator:","`       // TrustedIPHeaders are proxy headers trusted for the sender address.
	ClaimTTL         time.Duration `env:"INGEST_CLAIM_TTL" envDefault:"15m"`                // ClaimTTL protects an event while it is being scheduled.
	ClaimRetention   time.Duration `env:"INGEST_CLAIM_RETENTION" envDefault:"72h"`          // ClaimRetention is how long handled event IDs are remembered.
}

// Options converts the config into Handler options.
// A priority outside the 1..5 classes is rejected rather than narrowed.
func (c Config) Options() ([]Option, error) {
	if c.Priority < int(queue.PriorityCritical) || c.Priority > int(queue.PriorityMaintenance) {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidPriority, c.Priority)
	}

	opts := []Option{
		WithMaxBodyBytes(c.MaxBodyBytes),
		WithSignatureMaxAge(c.SignatureMaxAge),
		WithPriority(queue.Priority(c.Priority)),
		WithEventIDHeader(c.EventIDHeader),
	}
	if len(c.Sources) > 0 {
		opts = append(opts, WithSources(c.Sources...))
	}
	if len(c.TrustedIPHeaders) > 0 {
		opts = append(opts, WithIPResolver(clientip.NewResolver(c.TrustedIPHeaders...)))
	}
	return opts, nil
}

// LimiterConfig returns the per-sender limiter settings
func (c Config) LimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{Limit: c.RateLimit, Window: c.RateWindow}
}
