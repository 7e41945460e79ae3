package apubsub

import (
	"log/slog"
	"time"
)

// GCConfig toggles the garbage collection passes.
type GCConfig struct {
	// SweepInactive drops queue entries of inactive subscriptions.
	SweepInactive bool
	// QueueMaxSize caps the global queue size (approximately). Zero disables the pass.
	QueueMaxSize int
	// MessageMaxLifetime expires older messages and sweeps orphans. Zero disables the pass.
	MessageMaxLifetime time.Duration
	// DelayChecks disables the collection run after every send; an external
	// periodic caller is then expected to call GarbageCollection.
	DelayChecks bool
}

// Options is the configuration shared by every engine.
type Options struct {
	Logger    *slog.Logger
	Codec     Codec
	GC        GCConfig
	CacheSize int
	Now       func() time.Time
}

// Option configures Options.
type Option func(*Options)

// DefaultCacheSize bounds per-backend identity caches.
const DefaultCacheSize = 1024

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Logger:    slog.Default(),
		Codec:     JSONCodec{},
		GC:        GCConfig{SweepInactive: true},
		CacheSize: DefaultCacheSize,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithCodec sets the contents codec. Nil is ignored.
func WithCodec(c Codec) Option {
	return func(o *Options) {
		if c != nil {
			o.Codec = c
		}
	}
}

func WithQueueMaxSize(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.GC.QueueMaxSize = n
		}
	}
}

func WithMessageMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.GC.MessageMaxLifetime = d
		}
	}
}

func WithSweepInactive(enabled bool) Option {
	return func(o *Options) { o.GC.SweepInactive = enabled }
}

func WithDelayChecks(enabled bool) Option {
	return func(o *Options) { o.GC.DelayChecks = enabled }
}

// WithCacheSize bounds identity caches. Non-positive values are ignored.
func WithCacheSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.CacheSize = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// Config is the environment representation of Options.
type Config struct {
	Engine             string        `env:"APUBSUB_ENGINE" envDefault:"memory"`           // Engine is the registry tag of the backend to open.
	QueueMaxSize       int           `env:"APUBSUB_QUEUE_MAX_SIZE" envDefault:"0"`        // QueueMaxSize caps the global queue size, 0 disables.
	MessageMaxLifetime time.Duration `env:"APUBSUB_MESSAGE_MAX_LIFETIME" envDefault:"0s"` // MessageMaxLifetime expires messages, 0 disables.
	SweepInactive      bool          `env:"APUBSUB_SWEEP_INACTIVE" envDefault:"true"`     // SweepInactive drops backlog of inactive subscriptions.
	DelayChecks        bool          `env:"APUBSUB_DELAY_CHECKS" envDefault:"false"`      // DelayChecks skips garbage collection after send.
	CacheSize          int           `env:"APUBSUB_CACHE_SIZE" envDefault:"1024"`         // CacheSize bounds identity caches.
	Codec              string        `env:"APUBSUB_CODEC" envDefault:"json"`              // Codec is "json" or "msgpack".
	GCInterval         time.Duration `env:"APUBSUB_GC_INTERVAL" envDefault:"5m"`          // GCInterval is the janitor period.
}

// Options converts the configuration to engine options.
func (c Config) Options() ([]Option, error) {
	codec, err := CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithCodec(codec),
		WithQueueMaxSize(c.QueueMaxSize),
		WithMessageMaxLifetime(c.MessageMaxLifetime),
		WithSweepInactive(c.SweepInactive),
		WithDelayChecks(c.DelayChecks),
		WithCacheSize(c.CacheSize),
	}, nil
}
