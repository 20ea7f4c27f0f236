package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/mailq/internal/logging"
	"github.com/vvka-141/mailq/internal/retry"
	"github.com/vvka-141/mailq/pkg/mailq"
)

type received struct {
	from string
	to   []string
	data string
}

type fakeRelay struct {
	mu       sync.Mutex
	messages []received

	rcptFunc func(to string) error
	dataFunc func(data string) error
}

func (r *fakeRelay) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &fakeSession{relay: r}, nil
}

func (r *fakeRelay) received() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.messages...)
}

type fakeSession struct {
	relay *fakeRelay
	from  string
	to    []string
}

func (s *fakeSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *fakeSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.relay.rcptFunc != nil {
		if err := s.relay.rcptFunc(to); err != nil {
			return err
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *fakeSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.relay.dataFunc != nil {
		if err := s.relay.dataFunc(string(b)); err != nil {
			return err
		}
	}
	s.relay.mu.Lock()
	s.relay.messages = append(s.relay.messages, received{from: s.from, to: s.to, data: string(b)})
	s.relay.mu.Unlock()
	return nil
}

func (s *fakeSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *fakeSession) Logout() error { return nil }

// startRelay serves relay on a loopback port and returns a plain-text
// delivery configuration pointing at it.
func startRelay(t *testing.T, relay *fakeRelay) *mailq.DeliveryConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := gosmtp.NewServer(relay)
	srv.Domain = "relay.test"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &mailq.DeliveryConfig{
		Scope:       "North",
		Provider:    mailq.ProviderSMTP,
		Host:        host,
		Port:        port,
		Security:    mailq.SecurityNone,
		FromAddress: "noreply@example.com",
		FromName:    "Billing",
		Timeout:     5 * time.Second,
		Active:      true,
	}
}

func testMessage() *mailq.Message {
	return &mailq.Message{
		ID:       "0192b6a0-0000-7000-8000-000000000001",
		To:       "customer@example.org",
		Subject:  "Your invoice",
		HTMLBody: "<p>Hello</p>",
	}
}

func TestTransport_Send_Delivers(t *testing.T) {
	relay := &fakeRelay{}
	cfg := startRelay(t, relay)
	cfg.AuditBCC = "audit@example.com"
	cfg.Signature = "<b>The Billing Team</b>"

	tr := New(logging.NewNullLogger())
	require.NoError(t, tr.Send(context.Background(), cfg, testMessage()))

	msgs := relay.received()
	require.Len(t, msgs, 1)
	assert.Equal(t, "noreply@example.com", msgs[0].from)
	assert.Equal(t, []string{"customer@example.org", "audit@example.com"}, msgs[0].to)
	assert.Contains(t, msgs[0].data, "Subject: Your invoice")
	assert.Contains(t, msgs[0].data, "The Billing Team")
	assert.NotContains(t, msgs[0].data, "audit@example.com", "audit copy must stay out of the headers")
}

func TestTransport_Send_AuditCopyRefusedStillDelivers(t *testing.T) {
	relay := &fakeRelay{rcptFunc: func(to string) error {
		if to == "audit@example.com" {
			return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "no such mailbox"}
		}
		return nil
	}}
	cfg := startRelay(t, relay)
	cfg.AuditBCC = "audit@example.com"
	logger := logging.NewMemoryLogger()

	require.NoError(t, New(logger).Send(context.Background(), cfg, testMessage()))
	require.Len(t, relay.received(), 1)
	assert.True(t, logger.Contains("WARN", "audit copy"))
}

func TestTransport_Send_RecipientRejected(t *testing.T) {
	relay := &fakeRelay{rcptFunc: func(string) error {
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "user unknown"}
	}}
	cfg := startRelay(t, relay)

	err := New(logging.NewNullLogger()).Send(context.Background(), cfg, testMessage())
	require.Error(t, err)

	var rejected *mailq.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "rcpt to: 550")
	assert.Contains(t, rejected.Reason, "user unknown")
	assert.Empty(t, relay.received())
}

func TestTransport_Send_DataRejected(t *testing.T) {
	relay := &fakeRelay{dataFunc: func(string) error {
		return &gosmtp.SMTPError{Code: 554, EnhancedCode: gosmtp.EnhancedCode{5, 7, 1}, Message: "spam detected"}
	}}
	cfg := startRelay(t, relay)

	err := New(logging.NewNullLogger()).Send(context.Background(), cfg, testMessage())

	var rejected *mailq.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "spam detected")
}

func TestTransport_Send_UnreachableRelayIsConnectivity(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := &mailq.DeliveryConfig{Host: "127.0.0.1", Port: port, Security: mailq.SecurityNone, FromAddress: "a@example.com"}
	err = New(logging.NewNullLogger()).Send(context.Background(), cfg, testMessage())

	require.Error(t, err)
	var rejected *mailq.RejectedError
	assert.False(t, errors.As(err, &rejected))
	assert.Equal(t, retry.ClassConnectivity, retry.ClassifyError(err))
}

func TestTransport_Send_SilentRelayTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	cfg := &mailq.DeliveryConfig{
		Host:        "127.0.0.1",
		Port:        l.Addr().(*net.TCPAddr).Port,
		Security:    mailq.SecurityNone,
		FromAddress: "a@example.com",
		Timeout:     200 * time.Millisecond,
	}
	start := time.Now()
	err = New(logging.NewNullLogger()).Send(context.Background(), cfg, testMessage())

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, retry.ClassConnectivity, retry.ClassifyError(err))
}

func TestTransport_Send_NilConfig(t *testing.T) {
	err := New(logging.NewNullLogger()).Send(context.Background(), nil, testMessage())
	assert.ErrorIs(t, err, mailq.ErrInvalidConfig)
}

func TestTransport_Send_SignsWithDKIM(t *testing.T) {
	relay := &fakeRelay{}
	cfg := startRelay(t, relay)
	signer, err := NewSigner("mail", "", testKeyPEM(t))
	require.NoError(t, err)

	require.NoError(t, New(logging.NewNullLogger(), WithSigner(signer)).Send(context.Background(), cfg, testMessage()))

	msgs := relay.received()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].data, "DKIM-Signature:"))
	assert.Contains(t, msgs[0].data, "d=example.com")
	assert.Contains(t, msgs[0].data, "s=mail")
}

func TestNew_PanicsOnNilLogger(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestReplyError(t *testing.T) {
	plain := errors.New("EOF")
	err := replyError("mail from", plain)
	assert.ErrorIs(t, err, plain)

	err = replyError("mail from", &gosmtp.SMTPError{Code: 421, Message: "try later"})
	var rejected *mailq.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "mail from: 421 try later", rejected.Reason)
}
