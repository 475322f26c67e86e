package transport

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/pool"
	"github.com/submitkit/mailsubmit/smtpengine"
)

// Config is the declarative form of an SMTPTransport, grounded on
// shineum-smtp-proxy-lite/internal/config/config.go's YAML-tagged struct
// (spec.md §6 "Configuration enumerated options"). A Config built by hand
// or unmarshaled from YAML is converted to Options via ToOptions.
type Config struct {
	Addr       string   `yaml:"addr"`
	HelloName  string   `yaml:"hello_name"`
	Security   string   `yaml:"security"` // "none", "opportunistic", "required", "implicit_tls"
	Mechanisms []string `yaml:"mechanisms"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	Token      string   `yaml:"token"`

	ConnectTimeoutSeconds int   `yaml:"connect_timeout_seconds"`
	MaxMessageSize        int64 `yaml:"max_message_size"`
	SMTPUTF8              bool  `yaml:"smtputf8"`

	MaxPerKey  int    `yaml:"max_per_key"`
	IdleTTLSec int    `yaml:"idle_ttl_seconds"`
	MaxAgeSec  int    `yaml:"max_age_seconds"`
	ReuseMode  string `yaml:"reuse_mode"` // "none", "limited", "unlimited"
	ReuseLimit int    `yaml:"reuse_limit"`
	ProbeNoop  bool   `yaml:"probe_noop"`
}

// LoadConfig unmarshals a Config from YAML (spec.md §6 configuration; the
// module's ambient stack names this as the one optional declarative
// loading path, additive over hand-built Config values).
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("transport: reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("transport: parsing config: %w", err)
	}
	return cfg, nil
}

// engineConfig converts the declarative Config into an smtpengine.Config
// and pool.Policy pair for NewSMTPTransport.
func (c Config) engineConfig(logger *slog.Logger) smtpengine.Config {
	opts := []smtpengine.Option{
		WithSecurityString(c.Security),
		smtpengine.WithLogger(logger),
	}
	if c.HelloName != "" {
		opts = append(opts, smtpengine.WithHelloName(c.HelloName))
	}
	if len(c.Mechanisms) > 0 {
		opts = append(opts, smtpengine.WithMechanisms(c.Mechanisms...))
	}
	if c.Username != "" || c.Token != "" {
		opts = append(opts, smtpengine.WithCredentials(mailsubmit.Credentials{
			Username: c.Username,
			Password: c.Password,
			Token:    c.Token,
		}))
	}
	if c.ConnectTimeoutSeconds > 0 {
		opts = append(opts, smtpengine.WithConnectTimeout(time.Duration(c.ConnectTimeoutSeconds)*time.Second))
	}
	if c.MaxMessageSize > 0 {
		opts = append(opts, smtpengine.WithMaxMessageSize(c.MaxMessageSize))
	}
	opts = append(opts, smtpengine.WithSMTPUTF8(c.SMTPUTF8))
	return smtpengine.NewConfig(opts...)
}

func (c Config) poolPolicy() pool.Policy {
	p := pool.DefaultPolicy()
	if c.MaxPerKey > 0 {
		p.MaxPerKey = c.MaxPerKey
	}
	if c.IdleTTLSec > 0 {
		p.IdleTTL = time.Duration(c.IdleTTLSec) * time.Second
	}
	if c.MaxAgeSec > 0 {
		p.MaxAge = time.Duration(c.MaxAgeSec) * time.Second
	}
	switch c.ReuseMode {
	case "none":
		p.Mode = pool.NoReuse
	case "limited":
		p.Mode = pool.ReuseLimited
		p.ReuseLimit = c.ReuseLimit
	case "unlimited", "":
		p.Mode = pool.ReuseUnlimited
	}
	p.ProbeNoop = c.ProbeNoop
	return p
}

// WithSecurityString maps a Config's YAML-friendly security name onto the
// engine's SecurityMode option, defaulting to opportunistic on an unknown
// or empty value.
func WithSecurityString(s string) smtpengine.Option {
	switch s {
	case "none":
		return smtpengine.WithSecurity(smtpengine.SecurityNone)
	case "required":
		return smtpengine.WithSecurity(smtpengine.SecurityRequired)
	case "implicit_tls":
		return smtpengine.WithSecurity(smtpengine.SecurityImplicitTLS)
	default:
		return smtpengine.WithSecurity(smtpengine.SecurityOpportunistic)
	}
}

// NewSMTPTransportFromConfig builds a pooled SMTPTransport from a
// declarative Config.
func NewSMTPTransportFromConfig(cfg Config, logger *slog.Logger) (*SMTPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return NewSMTPTransport(cfg.Addr, cfg.engineConfig(logger), cfg.poolPolicy(), logger)
}
