package smtpengine

import (
	"log/slog"
	"time"

	"github.com/submitkit/mailsubmit"
)

// SecurityMode selects how (and whether) TLS is negotiated for a
// connection (spec §6 "security_mode {None, Opportunistic, Required,
// ImplicitTls}").
type SecurityMode int

const (
	SecurityNone SecurityMode = iota
	SecurityOpportunistic
	SecurityRequired
	SecurityImplicitTLS
)

// Config holds everything the engine needs to open and authenticate a
// connection, and to run one submission over it (spec §6 "Configuration
// enumerated options").
type Config struct {
	HelloName   string // if empty, derived per spec §4.7's Ehlo fallback chain
	Security    SecurityMode
	Verifier    Verifier
	Mechanisms  []string // SASL preference order; empty disables AUTH
	Credentials mailsubmit.Credentials

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSTimeout     time.Duration

	SMTPUTF8       bool
	MaxMessageSize int64 // caller override; 0 defers entirely to the server's SIZE

	// Logger receives wire-level detail (Debug: commands issued, replies
	// received, with AUTH payloads redacted) and connection failures
	// (Warn/Error). Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Option configures a Config.
type Option func(*Config)

func WithHelloName(name string) Option        { return func(c *Config) { c.HelloName = name } }
func WithSecurity(mode SecurityMode) Option   { return func(c *Config) { c.Security = mode } }
func WithVerifier(v Verifier) Option          { return func(c *Config) { c.Verifier = v } }
func WithMechanisms(mechs ...string) Option   { return func(c *Config) { c.Mechanisms = mechs } }
func WithCredentials(cr mailsubmit.Credentials) Option {
	return func(c *Config) { c.Credentials = cr }
}
func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }
func WithReadTimeout(d time.Duration) Option    { return func(c *Config) { c.ReadTimeout = d } }
func WithWriteTimeout(d time.Duration) Option   { return func(c *Config) { c.WriteTimeout = d } }
func WithTLSTimeout(d time.Duration) Option     { return func(c *Config) { c.TLSTimeout = d } }
func WithSMTPUTF8(v bool) Option                { return func(c *Config) { c.SMTPUTF8 = v } }
func WithMaxMessageSize(n int64) Option         { return func(c *Config) { c.MaxMessageSize = n } }
func WithLogger(l *slog.Logger) Option          { return func(c *Config) { c.Logger = l } }

// NewConfig applies opts over sensible defaults.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		Security:       SecurityOpportunistic,
		Verifier:       NewDefaultVerifier(VerifierOptions{}),
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		TLSTimeout:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
