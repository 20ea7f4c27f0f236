package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vvka-141/mailq/pkg/mailq"
)

const configColumns = `scope, name, provider, host, port, security, username, password,
	api_key, from_address, from_name, reply_to, audit_bcc, signature, timeout_seconds, active`

// Resolver reads delivery configurations from mailq_delivery_config.
// Scope lookup is case-insensitive and only active rows resolve.
type Resolver struct {
	conn mailq.DBConnection
}

var _ mailq.ConfigResolver = (*Resolver)(nil)

// NewResolver creates a Resolver. Panics if conn is nil.
func NewResolver(conn mailq.DBConnection) *Resolver {
	if conn == nil {
		panic("conn cannot be nil")
	}
	return &Resolver{conn: conn}
}

func (r *Resolver) ResolveDeliveryConfig(ctx context.Context, scope string) (*mailq.DeliveryConfig, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM mailq_delivery_config
		WHERE lower(scope) = lower($1) AND active`, scope)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve delivery config for %q: %w", scope, err)
	}
	return cfg, nil
}

// Upsert validates cfg and inserts it, replacing any configuration whose
// scope matches case-insensitively.
func (r *Resolver) Upsert(ctx context.Context, cfg *mailq.DeliveryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	provider := cfg.Provider
	if provider == "" {
		provider = mailq.ProviderSMTP
	}
	security := cfg.Security
	if security == "" {
		security = mailq.SecuritySTARTTLS
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO mailq_delivery_config (`+configColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
		ON CONFLICT ((lower(scope))) DO UPDATE SET
			scope = EXCLUDED.scope,
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			security = EXCLUDED.security,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			api_key = EXCLUDED.api_key,
			from_address = EXCLUDED.from_address,
			from_name = EXCLUDED.from_name,
			reply_to = EXCLUDED.reply_to,
			audit_bcc = EXCLUDED.audit_bcc,
			signature = EXCLUDED.signature,
			timeout_seconds = EXCLUDED.timeout_seconds,
			active = EXCLUDED.active,
			updated_at = now()`,
		cfg.Scope, cfg.Name, string(provider), cfg.Host, cfg.Port, string(security),
		cfg.Username, cfg.Password, cfg.APIKey, cfg.FromAddress, cfg.FromName,
		cfg.ReplyTo, cfg.AuditBCC, cfg.Signature, int(cfg.Timeout/time.Second), cfg.Active,
	)
	if err != nil {
		return fmt.Errorf("save delivery config %q: %w", cfg.Scope, err)
	}
	return nil
}

// List returns every stored configuration, active or not, ordered by scope.
func (r *Resolver) List(ctx context.Context) ([]*mailq.DeliveryConfig, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+configColumns+` FROM mailq_delivery_config ORDER BY lower(scope)`)
	if err != nil {
		return nil, fmt.Errorf("list delivery configs: %w", err)
	}
	defer rows.Close()

	var out []*mailq.DeliveryConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("list delivery configs: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delivery configs: %w", err)
	}
	return out, nil
}

func scanConfig(row mailq.Row) (*mailq.DeliveryConfig, error) {
	var (
		cfg      mailq.DeliveryConfig
		provider string
		security string
		timeout  int
	)
	err := row.Scan(
		&cfg.Scope, &cfg.Name, &provider, &cfg.Host, &cfg.Port, &security,
		&cfg.Username, &cfg.Password, &cfg.APIKey, &cfg.FromAddress, &cfg.FromName,
		&cfg.ReplyTo, &cfg.AuditBCC, &cfg.Signature, &timeout, &cfg.Active,
	)
	if err != nil {
		return nil, err
	}

	sec, err := mailq.ParseSecurity(security)
	if err != nil {
		return nil, fmt.Errorf("scope %q: %w", cfg.Scope, err)
	}
	cfg.Security = sec
	cfg.Provider = mailq.Provider(provider)
	cfg.Timeout = time.Duration(timeout) * time.Second
	return &cfg, nil
}
