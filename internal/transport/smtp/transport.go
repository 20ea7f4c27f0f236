// Package smtp delivers queue messages to SMTP relays.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// DialFunc opens the raw connection to the relay.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Transport sends one message per SMTP session. It is safe for concurrent use.
type Transport struct {
	logger    mailq.Logger
	signer    *Signer
	tlsConfig *tls.Config
	dial      DialFunc
	now       func() time.Time
}

var _ mailq.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithSigner DKIM-signs every outgoing message.
func WithSigner(s *Signer) Option {
	return func(t *Transport) { t.signer = s }
}

// WithTLSConfig sets the base TLS configuration. ServerName is always set
// to the relay host.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) { t.tlsConfig = cfg }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(t *Transport) { t.dial = dial }
}

// WithNow sets the clock used for the Date header.
func WithNow(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// New creates an SMTP transport.
func New(logger mailq.Logger, opts ...Option) *Transport {
	if logger == nil {
		panic("logger cannot be nil")
	}
	d := &net.Dialer{}
	t := &Transport{
		logger: logger,
		dial:   d.DialContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send composes msg and hands it to the relay described by cfg.
//
// SMTP replies that refuse the message come back as *mailq.RejectedError.
// Dial, TLS and I/O failures are returned unchanged so the queue can
// classify them as connectivity problems.
func (t *Transport) Send(ctx context.Context, cfg *mailq.DeliveryConfig, msg *mailq.Message) error {
	if cfg == nil {
		return fmt.Errorf("no delivery configuration: %w", mailq.ErrInvalidConfig)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	raw, err := Compose(cfg, msg, t.now())
	if err != nil {
		return fmt.Errorf("compose message %s: %w", msg.ID, err)
	}
	raw, err = t.signer.Sign(raw, cfg.FromAddress)
	if err != nil {
		return err
	}

	client, err := t.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if user, pass := cfg.Credentials(); user != "" {
		if err := client.Auth(sasl.NewPlainClient("", user, pass)); err != nil {
			return replyError("auth", err)
		}
	}
	if err := client.Mail(cfg.FromAddress, nil); err != nil {
		return replyError("mail from", err)
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return replyError("rcpt to", err)
	}
	if cfg.AuditBCC != "" {
		if err := client.Rcpt(cfg.AuditBCC, nil); err != nil {
			t.logger.Warn("[smtp] audit copy to %s refused for %s: %v", cfg.AuditBCC, msg.ID, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return replyError("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return replyError("data", err)
	}

	if err := client.Quit(); err != nil {
		t.logger.Verbose("[smtp] quit %s: %v", cfg.Address(), err)
	}
	t.logger.Verbose("[smtp] %s accepted by %s", msg.ID, cfg.Address())
	return nil
}

func (t *Transport) connect(ctx context.Context, cfg *mailq.DeliveryConfig) (*gosmtp.Client, error) {
	addr := cfg.Address()
	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Abort blocked reads and writes once the attempt is over.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *gosmtp.Client
	switch cfg.Security {
	case mailq.SecurityTLS:
		tlsConn := tls.Client(conn, t.tlsFor(cfg.Host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			stop()
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		client = gosmtp.NewClient(tlsConn)
	case mailq.SecurityNone:
		client = gosmtp.NewClient(conn)
	default:
		client, err = gosmtp.NewClientStartTLS(conn, t.tlsFor(cfg.Host))
		if err != nil {
			stop()
			conn.Close()
			return nil, replyError("starttls", err)
		}
	}
	return client, nil
}

func (t *Transport) tlsFor(host string) *tls.Config {
	var cfg *tls.Config
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg.ServerName = host
	return cfg
}

// replyError turns an SMTP reply into a reported failure and wraps
// everything else.
func replyError(stage string, err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &mailq.RejectedError{Reason: fmt.Sprintf("%s: %d %s", stage, smtpErr.Code, smtpErr.Message)}
	}
	return fmt.Errorf("%s: %w", stage, err)
}
