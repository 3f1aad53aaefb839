/************************************************************************************
 *
 * shardwire, a Go client for Discord's Gateway and Voice real-time services
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 shardwire authors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package shardwire

// Config holds everything a Shard or Cluster needs beyond shard identity.
// Build one with NewConfig and the With* options below; all fields have
// sane defaults so only WithToken is strictly required.
type Config struct {
	Token   string
	Intents GatewayIntent

	Compress bool
	Encoding Encoding

	LargeThreshold int

	MaxReconnectAttempts int
	ReconnectBaseDelayMs uint64
	ReconnectMaxDelayMs  uint64

	MaxConcurrency int
	GatewayURL     string
	UserAgent      string

	Logger          Logger
	WorkerPool      WorkerPool
	IdentifyLimiter ShardsIdentifyRateLimiter
	GatewayInfo     GatewayInfoProvider
}

// Option configures a Config. Pass any number to NewConfig.
type Option func(*Config)

func WithToken(token string) Option {
	return func(c *Config) { c.Token = token }
}

// WithIntents ORs the given intents into the config's intent bitfield.
// Safe to call more than once; each call adds to whatever intents are
// already set rather than replacing them.
func WithIntents(intents ...GatewayIntent) Option {
	return func(c *Config) { c.Intents = BitFieldAdd(c.Intents, intents...) }
}

func WithCompress(enabled bool) Option {
	return func(c *Config) { c.Compress = enabled }
}

func WithEncoding(e Encoding) Option {
	return func(c *Config) { c.Encoding = e }
}

func WithLargeThreshold(n int) Option {
	return func(c *Config) {
		if n < 50 {
			n = 50
		}
		if n > 250 {
			n = 250
		}
		c.LargeThreshold = n
	}
}

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.MaxReconnectAttempts = n }
}

func WithReconnectBackoff(baseMs, maxMs uint64) Option {
	return func(c *Config) {
		c.ReconnectBaseDelayMs = baseMs
		c.ReconnectMaxDelayMs = maxMs
	}
}

func WithMaxConcurrency(n int) Option {
	return func(c *Config) { c.MaxConcurrency = n }
}

func WithGatewayURL(url string) Option {
	return func(c *Config) { c.GatewayURL = url }
}

func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func WithWorkerPool(pool WorkerPool) Option {
	return func(c *Config) { c.WorkerPool = pool }
}

func WithShardsIdentifyRateLimiter(limiter ShardsIdentifyRateLimiter) Option {
	return func(c *Config) { c.IdentifyLimiter = limiter }
}

func WithGatewayInfoProvider(provider GatewayInfoProvider) Option {
	return func(c *Config) { c.GatewayInfo = provider }
}

// HasIntents reports whether every one of the given intents is set.
func (c *Config) HasIntents(intents ...GatewayIntent) bool {
	return BitFieldHas(c.Intents, intents...)
}

func defaultConfig() *Config {
	return &Config{
		Encoding:             EncodingJSON,
		LargeThreshold:       250,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelayMs: 1000,
		ReconnectMaxDelayMs:  60000,
		MaxConcurrency:       1,
		GatewayURL:           DefaultGatewayURL,
		UserAgent:            UserAgent,
	}
}

// NewConfig builds a Config from defaults plus the given options, then fills
// in a zerolog-backed Logger and a bounded worker pool if the caller didn't
// supply their own.
func NewConfig(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger(nil, LogLevelInfoLevel)
	}
	if cfg.WorkerPool == nil {
		cfg.WorkerPool = NewDefaultWorkerPool(cfg.Logger)
	}
	if cfg.IdentifyLimiter == nil {
		cfg.IdentifyLimiter = NewDefaultShardsRateLimiter(cfg.MaxConcurrency)
	}
	return cfg
}
