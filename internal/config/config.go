package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

type ConnectionConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Database           string `yaml:"database"`
	ManagementDatabase string `yaml:"management_database,omitempty"`
	SSLMode            string `yaml:"sslmode"`
	SSLCert            string `yaml:"sslcert,omitempty"`
	SSLKey             string `yaml:"sslkey,omitempty"`
	SSLRootCert        string `yaml:"sslrootcert,omitempty"`
	AuthMethod         string `yaml:"auth_method,omitempty"`
	AzureTenantID      string `yaml:"azure_tenant_id,omitempty"`
	AzureClientID      string `yaml:"azure_client_id,omitempty"`
	AWSRegion          string `yaml:"aws_region,omitempty"`
	GoogleInstance     string `yaml:"google_instance,omitempty"`
}

// QueueConfig tunes the retry engine and the scheduler. Durations are Go
// duration strings ("90s", "5m").
type QueueConfig struct {
	MaxAttempts       int      `yaml:"max_attempts,omitempty"`
	RetryDelays       []string `yaml:"retry_delays,omitempty"`
	ConnectivityDelay string   `yaml:"connectivity_delay,omitempty"`
	AttemptTimeout    string   `yaml:"attempt_timeout,omitempty"`
	BatchSize         int      `yaml:"batch_size,omitempty"`
	Interval          string   `yaml:"interval,omitempty"`
	StartupDelay      string   `yaml:"startup_delay,omitempty"`
	RepairOnStart     *bool    `yaml:"repair_on_start,omitempty"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type DKIMConfig struct {
	Selector   string `yaml:"selector,omitempty"`
	Domain     string `yaml:"domain,omitempty"`
	KeyPath    string `yaml:"key_path,omitempty"`
	PrivateKey string `yaml:"-"`
}

// Enabled reports whether enough is set to sign outgoing mail.
func (d DKIMConfig) Enabled() bool {
	return d.Selector != "" && (d.KeyPath != "" || d.PrivateKey != "")
}

// DeliveryConfig is a static per-scope relay definition. It is consulted
// after the database table.
type DeliveryConfig struct {
	Scope       string `yaml:"scope"`
	Name        string `yaml:"name,omitempty"`
	Provider    string `yaml:"provider,omitempty"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Security    string `yaml:"security,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name,omitempty"`
	ReplyTo     string `yaml:"reply_to,omitempty"`
	AuditBCC    string `yaml:"audit_bcc,omitempty"`
	Signature   string `yaml:"signature,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
}

type ProjectConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Queue      QueueConfig      `yaml:"queue,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty"`
	DKIM       DKIMConfig       `yaml:"dkim,omitempty"`
	Delivery   []DeliveryConfig `yaml:"delivery,omitempty"`
	Timeout    string           `yaml:"timeout,omitempty"`
}

const ConfigFileName = "mailq.yaml"

// DKIM environment variables. They override the dkim section.
const (
	EnvDKIMSelector   = "MAILQ_DKIM_SELECTOR"
	EnvDKIMDomain     = "MAILQ_DKIM_DOMAIN"
	EnvDKIMKeyPath    = "MAILQ_DKIM_KEY_PATH"
	EnvDKIMPrivateKey = "MAILQ_DKIM_PRIVATE_KEY"
)

func Load(dir string) (*ProjectConfig, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a mailq.yaml document.
func Parse(data []byte) (*ProjectConfig, error) {
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", mailq.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// Save writes cfg to dir/mailq.yaml.
func Save(dir string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0644)
}

// QueueSettings is the parsed, defaulted form of QueueConfig.
type QueueSettings struct {
	MaxAttempts       int
	RetryDelays       []time.Duration
	ConnectivityDelay time.Duration
	AttemptTimeout    time.Duration
	BatchSize         int
	Interval          time.Duration
	StartupDelay      time.Duration
	RepairOnStart     bool
}

// DefaultQueueSettings returns the built-in queue tuning.
func DefaultQueueSettings() QueueSettings {
	return QueueSettings{
		MaxAttempts:       mailq.DefaultMaxAttempts,
		RetryDelays:       append([]time.Duration(nil), mailq.DefaultRetryDelays...),
		ConnectivityDelay: mailq.DefaultConnectivityDelay,
		AttemptTimeout:    mailq.DefaultAttemptTimeout,
		BatchSize:         mailq.DefaultBatchSize,
		Interval:          mailq.DefaultInterval,
		StartupDelay:      mailq.DefaultStartupDelay,
		RepairOnStart:     true,
	}
}

// QueueSettings parses the queue section over the defaults. All problems are
// reported together, each wrapping mailq.ErrInvalidConfig. A nil receiver
// yields the defaults.
func (c *ProjectConfig) QueueSettings() (QueueSettings, error) {
	s := DefaultQueueSettings()
	if c == nil {
		return s, nil
	}
	q := c.Queue
	var errs []error

	if q.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be positive, got %d: %w", q.MaxAttempts, mailq.ErrInvalidConfig))
	} else if q.MaxAttempts > 0 {
		s.MaxAttempts = q.MaxAttempts
	}
	if q.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be positive, got %d: %w", q.BatchSize, mailq.ErrInvalidConfig))
	} else if q.BatchSize > 0 {
		s.BatchSize = q.BatchSize
	}

	if len(q.RetryDelays) > 0 {
		delays := make([]time.Duration, 0, len(q.RetryDelays))
		for i, raw := range q.RetryDelays {
			d, err := parseDuration(fmt.Sprintf("queue.retry_delays[%d]", i), raw)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			delays = append(delays, d)
		}
		s.RetryDelays = delays
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
		zero bool
	}{
		{"queue.connectivity_delay", q.ConnectivityDelay, &s.ConnectivityDelay, true},
		{"queue.attempt_timeout", q.AttemptTimeout, &s.AttemptTimeout, false},
		{"queue.interval", q.Interval, &s.Interval, false},
		{"queue.startup_delay", q.StartupDelay, &s.StartupDelay, true},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.name, d.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v == 0 && !d.zero {
			errs = append(errs, fmt.Errorf("%s must be greater than zero: %w", d.name, mailq.ErrInvalidConfig))
			continue
		}
		*d.dst = v
	}

	if q.RepairOnStart != nil {
		s.RepairOnStart = *q.RepairOnStart
	}

	if err := errors.Join(errs...); err != nil {
		return QueueSettings{}, err
	}
	return s, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, mailq.ErrInvalidConfig)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative: %w", name, mailq.ErrInvalidConfig)
	}
	return d, nil
}

// DeliveryConfigs converts the delivery section. Entries without an explicit
// active flag are active.
func (c *ProjectConfig) DeliveryConfigs() ([]*mailq.DeliveryConfig, error) {
	if c == nil {
		return nil, nil
	}
	var (
		out  []*mailq.DeliveryConfig
		errs []error
	)
	for i, d := range c.Delivery {
		cfg, err := d.toDeliveryConfig()
		if err != nil {
			errs = append(errs, fmt.Errorf("delivery[%d]: %w", i, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (d DeliveryConfig) toDeliveryConfig() (*mailq.DeliveryConfig, error) {
	security, err := mailq.ParseSecurity(d.Security)
	if err != nil {
		return nil, err
	}
	provider := mailq.Provider(strings.ToLower(strings.TrimSpace(d.Provider)))
	if provider == "" {
		provider = mailq.ProviderSMTP
	}

	cfg := &mailq.DeliveryConfig{
		Scope:       d.Scope,
		Name:        d.Name,
		Provider:    provider,
		Host:        d.Host,
		Port:        d.Port,
		Security:    security,
		Username:    d.Username,
		Password:    os.ExpandEnv(d.Password),
		APIKey:      os.ExpandEnv(d.APIKey),
		FromAddress: d.FromAddress,
		FromName:    d.FromName,
		ReplyTo:     d.ReplyTo,
		AuditBCC:    d.AuditBCC,
		Signature:   d.Signature,
		Active:      d.Active == nil || *d.Active,
	}
	if d.Timeout != "" {
		t, err := parseDuration("timeout", d.Timeout)
		if err != nil {
			return nil, err
		}
		cfg.Timeout = t
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DKIMSettings returns the dkim section with MAILQ_DKIM_* variables applied
// on top.
func (c *ProjectConfig) DKIMSettings() DKIMConfig {
	var d DKIMConfig
	if c != nil {
		d = c.DKIM
	}
	if v := os.Getenv(EnvDKIMSelector); v != "" {
		d.Selector = v
	}
	if v := os.Getenv(EnvDKIMDomain); v != "" {
		d.Domain = v
	}
	if v := os.Getenv(EnvDKIMKeyPath); v != "" {
		d.KeyPath = v
	}
	if v := os.Getenv(EnvDKIMPrivateKey); v != "" {
		d.PrivateKey = v
	}
	return d
}

// EffectiveTimeout parses the top-level timeout used for CLI database calls.
// Empty yields fallback.
func (c *ProjectConfig) EffectiveTimeout(fallback time.Duration) (time.Duration, error) {
	if c == nil || c.Timeout == "" {
		return fallback, nil
	}
	return parseDuration("timeout", c.Timeout)
}
