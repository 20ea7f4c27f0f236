package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/internal/db"
	"github.com/vvka-141/mailq/internal/store/postgres"
	"github.com/vvka-141/mailq/internal/tui"
	"github.com/vvka-141/mailq/pkg/mailq"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Manage per-scope delivery configurations",
	Long: `Delivery configurations tell mailq which SMTP relay sends the mail of a
scope. Configurations stored in the database take precedence over the
delivery section of mailq.yaml. Scope names are matched case-insensitively.

The relay is given with --relay-host and --relay-port; --host and --port
address the PostgreSQL server as in every other command.`,
}

var deliverySetCmd = &cobra.Command{
	Use:   "set <scope>",
	Short: "Create or replace the delivery configuration of a scope",
	Long: `Set stores the delivery configuration of a scope in the database.

Secrets are NOT accepted as CLI flags. Name the environment variable that holds
them with --password-env or --api-key-env.

Examples:
  SMTP_PASSWORD=... mailq delivery set billing --relay-host smtp.example.com \
    --relay-port 587 --relay-user mailer --password-env SMTP_PASSWORD --from billing@example.com

  SENDGRID_API_KEY=... mailq delivery set marketing --provider sendgrid \
    --relay-host smtp.sendgrid.net --relay-port 465 --security tls \
    --api-key-env SENDGRID_API_KEY --from news@example.com --audit-bcc archive@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runDeliverySet,
}

var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery configurations",
	Args:  cobra.NoArgs,
	RunE:  runDeliveryList,
}

type deliveryFlagValues struct {
	name, provider, host, security    string
	port                              int
	username, passwordEnv, apiKeyEnv  string
	from, fromName, replyTo, auditBCC string
	signature                         string
	sendTimeout                       time.Duration
	inactive, force                   bool
}

var deliveryFlags deliveryFlagValues

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(deliverySetCmd, deliveryListCmd)
	addConnectionFlags(deliverySetCmd, &connFlags)
	addConnectionFlags(deliveryListCmd, &connFlags)

	f := deliverySetCmd.Flags()
	f.StringVar(&deliveryFlags.name, "name", "", "Display name of the configuration")
	f.StringVar(&deliveryFlags.provider, "provider", string(mailq.ProviderSMTP), "Relay kind: smtp|sendgrid")
	f.StringVar(&deliveryFlags.host, "relay-host", "", "SMTP relay host (required)")
	f.IntVar(&deliveryFlags.port, "relay-port", 587, "SMTP relay port")
	f.StringVar(&deliveryFlags.security, "security", string(mailq.SecuritySTARTTLS), "Session security: starttls|tls|none")
	f.StringVar(&deliveryFlags.username, "relay-user", "", "SMTP AUTH user")
	f.StringVar(&deliveryFlags.passwordEnv, "password-env", "", "Environment variable holding the SMTP password")
	f.StringVar(&deliveryFlags.apiKeyEnv, "api-key-env", "", "Environment variable holding the SendGrid API key")
	f.StringVar(&deliveryFlags.from, "from", "", "Sender address (required)")
	f.StringVar(&deliveryFlags.fromName, "from-name", "", "Sender display name")
	f.StringVar(&deliveryFlags.replyTo, "reply-to", "", "Reply-To address")
	f.StringVar(&deliveryFlags.auditBCC, "audit-bcc", "", "Address that silently receives a copy of every message")
	f.StringVar(&deliveryFlags.signature, "signature", "", "HTML appended to every body")
	f.DurationVar(&deliveryFlags.sendTimeout, "send-timeout", 0, "Timeout of one SMTP session (default: queue.attempt_timeout)")
	f.BoolVar(&deliveryFlags.inactive, "inactive", false, "Store the configuration disabled")
	f.BoolVar(&deliveryFlags.force, "force", false, "Replace an existing configuration without asking")

	deliveryListCmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	registerFlagCompletions(deliverySetCmd)
	registerFlagCompletions(deliveryListCmd)
}

// buildDeliveryConfig turns the set flags into a validated configuration.
// Secrets are looked up with getenv.
func buildDeliveryConfig(scope string, flags deliveryFlagValues, getenv func(string) string) (*mailq.DeliveryConfig, error) {
	security, err := mailq.ParseSecurity(flags.security)
	if err != nil {
		return nil, err
	}
	provider := mailq.Provider(strings.ToLower(strings.TrimSpace(flags.provider)))
	if provider != mailq.ProviderSMTP && provider != mailq.ProviderSendGrid {
		return nil, fmt.Errorf("unknown provider %q: %w", flags.provider, mailq.ErrInvalidConfig)
	}

	secret := func(flag, name string) (string, error) {
		if name == "" {
			return "", nil
		}
		v := getenv(name)
		if v == "" {
			return "", fmt.Errorf("--%s: environment variable %s is empty: %w", flag, name, mailq.ErrInvalidConfig)
		}
		return v, nil
	}
	password, err := secret("password-env", flags.passwordEnv)
	if err != nil {
		return nil, err
	}
	apiKey, err := secret("api-key-env", flags.apiKeyEnv)
	if err != nil {
		return nil, err
	}

	cfg := &mailq.DeliveryConfig{
		Scope:       strings.TrimSpace(scope),
		Name:        flags.name,
		Provider:    provider,
		Host:        flags.host,
		Port:        flags.port,
		Security:    security,
		Username:    flags.username,
		Password:    password,
		APIKey:      apiKey,
		FromAddress: flags.from,
		FromName:    flags.fromName,
		ReplyTo:     flags.replyTo,
		AuditBCC:    flags.auditBCC,
		Signature:   flags.signature,
		Timeout:     flags.sendTimeout,
		Active:      !flags.inactive,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDeliverySet(cmd *cobra.Command, args []string) error {
	cfg, err := buildDeliveryConfig(args[0], deliveryFlags, os.Getenv)
	if err != nil {
		return err
	}

	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context(), env.timeout, "cancelling delivery set")
	defer cancel()

	pool, closeFn, err := env.connect(ctx, "")
	if err != nil {
		return err
	}
	defer closeFn()
	configs := postgres.NewResolver(db.NewPoolAdapter(pool))

	existing, err := configs.List(ctx)
	if err != nil {
		return err
	}
	if findScope(existing, cfg.Scope) != nil && !deliveryFlags.force && tui.IsInteractive() {
		if !tui.PromptContinue(fmt.Sprintf("Scope %q already has a delivery configuration. Replace it?", cfg.Scope)) {
			return fmt.Errorf("replace delivery configuration %q: %w", cfg.Scope, mailq.ErrApprovalDenied)
		}
	}

	if err := configs.Upsert(ctx, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Delivery configuration for scope %s saved\n", cfg.Scope)
	return nil
}

func findScope(cfgs []*mailq.DeliveryConfig, scope string) *mailq.DeliveryConfig {
	for _, c := range cfgs {
		if strings.EqualFold(c.Scope, scope) {
			return c
		}
	}
	return nil
}

// deliveryView is the listing form of a configuration. Secrets are reduced
// to whether they are set.
type deliveryView struct {
	Source      string `json:"source"`
	Scope       string `json:"scope"`
	Name        string `json:"name,omitempty"`
	Provider    string `json:"provider"`
	Address     string `json:"address"`
	Security    string `json:"security"`
	Username    string `json:"username,omitempty"`
	HasSecret   bool   `json:"has_secret"`
	FromAddress string `json:"from_address"`
	AuditBCC    string `json:"audit_bcc,omitempty"`
	Active      bool   `json:"active"`
}

func newDeliveryView(source string, c *mailq.DeliveryConfig) deliveryView {
	user, secret := c.Credentials()
	return deliveryView{
		Source:      source,
		Scope:       c.Scope,
		Name:        c.Name,
		Provider:    string(c.Provider),
		Address:     c.Address(),
		Security:    string(c.Security),
		Username:    user,
		HasSecret:   secret != "",
		FromAddress: c.FromAddress,
		AuditBCC:    c.AuditBCC,
		Active:      c.Active,
	}
}

func runDeliveryList(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	static, err := env.project.DeliveryConfigs()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), env.timeout, "cancelling delivery list")
	defer cancel()

	pool, closeFn, err := env.connect(ctx, "")
	if err != nil {
		return err
	}
	defer closeFn()

	stored, err := postgres.NewResolver(db.NewPoolAdapter(pool)).List(ctx)
	if err != nil {
		return err
	}

	views := make([]deliveryView, 0, len(stored)+len(static))
	for _, c := range stored {
		views = append(views, newDeliveryView("database", c))
	}
	for _, c := range static {
		views = append(views, newDeliveryView("mailq.yaml", c))
	}

	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), views)
	}
	if len(views) == 0 {
		fmt.Fprintln(os.Stderr, "No delivery configurations. Add one with 'mailq delivery set'")
		return nil
	}
	return writeDeliveryTable(cmd.OutOrStdout(), views)
}

func writeDeliveryTable(w io.Writer, views []deliveryView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tSOURCE\tPROVIDER\tRELAY\tSECURITY\tFROM\tACTIVE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			v.Scope, v.Source, v.Provider, v.Address, v.Security, v.FromAddress, v.Active)
	}
	return tw.Flush()
}
