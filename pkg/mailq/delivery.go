package mailq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Security selects how the transport protects the SMTP session.
type Security string

const (
	SecurityNone     Security = "none"
	SecuritySTARTTLS Security = "starttls"
	SecurityTLS      Security = "tls" // implicit TLS, also accepted as "ssl"
)

// ParseSecurity normalizes a security mode name. Empty means STARTTLS.
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "starttls":
		return SecuritySTARTTLS, nil
	case "none", "plain":
		return SecurityNone, nil
	case "tls", "ssl":
		return SecurityTLS, nil
	}
	return "", fmt.Errorf("unknown security mode %q: %w", s, ErrInvalidConfig)
}

// Provider names the kind of relay a configuration points at.
type Provider string

const (
	ProviderSMTP     Provider = "smtp"
	ProviderSendGrid Provider = "sendgrid"
)

// SendGridUsername is the fixed SMTP user for SendGrid API key authentication.
const SendGridUsername = "apikey"

// DeliveryConfig is the transport configuration of one scope.
type DeliveryConfig struct {
	Scope       string
	Name        string
	Provider    Provider
	Host        string
	Port        int
	Security    Security
	Username    string
	Password    string
	APIKey      string
	FromAddress string
	FromName    string
	ReplyTo     string
	AuditBCC    string
	Signature   string
	Timeout     time.Duration
	Active      bool
}

// Credentials returns the user and password used for SMTP AUTH.
// Both are empty when the relay accepts unauthenticated mail.
func (c *DeliveryConfig) Credentials() (string, string) {
	if c.Provider == ProviderSendGrid || (c.APIKey != "" && c.Username == "") {
		return SendGridUsername, c.APIKey
	}
	return c.Username, c.Password
}

// Address returns host:port.
func (c *DeliveryConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks required fields. It returns a multi-error if multiple
// validation failures occur.
func (c *DeliveryConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Scope) == "" {
		errs = append(errs, fmt.Errorf("scope is required: %w", ErrInvalidConfig))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, fmt.Errorf("host is required: %w", ErrInvalidConfig))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range: %w", c.Port, ErrInvalidConfig))
	}
	if strings.TrimSpace(c.FromAddress) == "" {
		errs = append(errs, fmt.Errorf("from address is required: %w", ErrInvalidConfig))
	}
	if c.Provider == ProviderSendGrid && c.APIKey == "" {
		errs = append(errs, fmt.Errorf("sendgrid provider requires an api key: %w", ErrInvalidConfig))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout cannot be negative: %w", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

// Message is what a Transport delivers.
type Message struct {
	ID          string
	To          string
	Subject     string
	HTMLBody    string
	Attachments Attachments
}

// RejectedError is a failure reported by the transport itself, as opposed
// to an error thrown on the way to it. It gets the standard backoff.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// Rejected builds a RejectedError.
func Rejected(format string, args ...interface{}) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// Transport delivers a message using a delivery configuration.
// A nil error means the message was accepted. A *RejectedError means the
// transport reported a failure. Any other error was thrown on the way.
type Transport interface {
	Send(ctx context.Context, cfg *DeliveryConfig, msg *Message) error
}

// ConfigResolver finds the active delivery configuration for a scope.
// It returns (nil, nil) when the scope has none.
type ConfigResolver interface {
	ResolveDeliveryConfig(ctx context.Context, scope string) (*DeliveryConfig, error)
}
