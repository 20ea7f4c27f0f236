package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vvka-141/mailq/internal/config"
	"github.com/vvka-141/mailq/internal/db"
	"github.com/vvka-141/mailq/internal/logging"
	"github.com/vvka-141/mailq/internal/queue"
	"github.com/vvka-141/mailq/internal/retry"
	"github.com/vvka-141/mailq/internal/store"
	"github.com/vvka-141/mailq/internal/store/memory"
	"github.com/vvka-141/mailq/internal/store/postgres"
	"github.com/vvka-141/mailq/internal/transport/smtp"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// environment is the resolved configuration shared by database commands.
type environment struct {
	verbose bool
	logger  mailq.Logger
	project *config.ProjectConfig
	conn    *resolvedConnection
	timeout time.Duration
}

func newEnvironment(cmd *cobra.Command) (*environment, error) {
	verbose := getVerboseFlag(cmd)

	project, err := loadProjectConfig(getConfigDir(cmd))
	if err != nil {
		return nil, err
	}
	conn, err := resolveConnectionFromFlags(connFlags, project)
	if err != nil {
		return nil, err
	}
	timeout, err := resolveEffectiveTimeout(cmd, project)
	if err != nil {
		return nil, err
	}
	if verbose {
		logConnectionVerbose(conn.ConnConfig, conn.MaintenanceDB, cmd.Name() == "init")
	}

	return &environment{
		verbose: verbose,
		logger:  logging.NewConsoleLogger(verbose),
		project: project,
		conn:    conn,
		timeout: timeout,
	}, nil
}

// connect opens a pool on database, or on the queue database when empty.
// The returned func releases the pool and any cloud dialer.
func (e *environment) connect(ctx context.Context, database string) (*pgxpool.Pool, func(), error) {
	cfg := *e.conn.ConnConfig
	if database != "" {
		cfg.Database = database
	}

	connector, err := db.NewConnector(&cfg, e.logger)
	if err != nil {
		return nil, nil, err
	}
	pool, err := connector.Connect(ctx)
	if err != nil {
		if c, ok := connector.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, nil, err
	}
	return pool, func() {
		pool.Close()
		if c, ok := connector.(io.Closer); ok {
			_ = c.Close()
		}
	}, nil
}

// queueHandle is an open queue plus the resources behind it.
type queueHandle struct {
	service  *queue.Service
	settings config.QueueSettings
	configs  *postgres.Resolver
	conn     mailq.DBConnection
	close    func()
}

// openQueue connects to the queue database and wires the service.
func (e *environment) openQueue(ctx context.Context, recorder mailq.Recorder) (*queueHandle, error) {
	pool, closeFn, err := e.connect(ctx, "")
	if err != nil {
		return nil, err
	}
	conn := db.NewPoolAdapter(pool)
	configs := postgres.NewResolver(conn)

	transport, err := newTransport(e.project, e.logger)
	if err != nil {
		closeFn()
		return nil, err
	}
	svc, settings, err := buildService(e.project, queueDeps{
		store:     postgres.NewStore(conn),
		configs:   configs,
		transport: transport,
		recorder:  recorder,
	}, e.logger)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &queueHandle{
		service:  svc,
		settings: settings,
		configs:  configs,
		conn:     conn,
		close:    closeFn,
	}, nil
}

type queueDeps struct {
	store     mailq.Store
	configs   mailq.ConfigResolver
	transport mailq.Transport
	recorder  mailq.Recorder
}

// buildService applies the queue section of mailq.yaml. Delivery
// configurations from the database win over the static ones in mailq.yaml.
func buildService(project *config.ProjectConfig, deps queueDeps, logger mailq.Logger) (*queue.Service, config.QueueSettings, error) {
	settings, err := project.QueueSettings()
	if err != nil {
		return nil, config.QueueSettings{}, err
	}
	static, err := project.DeliveryConfigs()
	if err != nil {
		return nil, config.QueueSettings{}, err
	}

	var resolvers []mailq.ConfigResolver
	if deps.configs != nil {
		resolvers = append(resolvers, deps.configs)
	}
	resolvers = append(resolvers, memory.NewResolver(static...))

	opts := []queue.Option{
		queue.WithMaxAttempts(settings.MaxAttempts),
		queue.WithBackoff(retry.NewDelayTable(settings.MaxAttempts, settings.RetryDelays...)),
		queue.WithConnectivityDelay(settings.ConnectivityDelay),
		queue.WithAttemptTimeout(settings.AttemptTimeout),
	}
	if deps.recorder != nil {
		opts = append(opts, queue.WithRecorder(deps.recorder))
	}

	svc := queue.NewService(deps.store, store.Chain(resolvers...), deps.transport, logger, opts...)
	return svc, settings, nil
}

// newTransport builds the SMTP transport, signing with DKIM when configured.
func newTransport(project *config.ProjectConfig, logger mailq.Logger) (*smtp.Transport, error) {
	d := project.DKIMSettings()
	signer, err := smtp.LoadSigner(d.Selector, d.Domain, d.KeyPath, d.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mailq.ErrInvalidConfig, err)
	}
	if signer != nil {
		logger.Verbose("DKIM signing enabled (selector %s)", signer.Selector())
	}
	return smtp.New(logger, smtp.WithSigner(signer)), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or after
// timeout (zero means no timeout).
func signalContext(parent context.Context, timeout time.Duration, what string) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	// Handle interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintf(os.Stderr, "\n[INTERRUPT] Received interrupt signal, %s...\n", what)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// commandEnv is an environment bound to the context of one command run.
type commandEnv struct {
	*environment
	ctx context.Context
}

// openQueueForCommand is the common prologue of one-shot queue commands.
// The returned cleanup closes the queue and releases the signal handler.
func openQueueForCommand(cmd *cobra.Command) (*commandEnv, *queueHandle, func(), error) {
	return openQueueCommand(cmd, true)
}

// openQueueUntimed is openQueueForCommand for commands that run until
// interrupted. Only connecting is bounded by the timeout.
func openQueueUntimed(cmd *cobra.Command) (*commandEnv, *queueHandle, func(), error) {
	return openQueueCommand(cmd, false)
}

func openQueueCommand(cmd *cobra.Command, timed bool) (*commandEnv, *queueHandle, func(), error) {
	env, err := newEnvironment(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	var timeout time.Duration
	if timed {
		timeout = env.timeout
	}
	ctx, cancel := signalContext(cmd.Context(), timeout, "cancelling "+cmd.Name())

	connectCtx, connectCancel := context.WithTimeout(ctx, env.timeout)
	h, err := env.openQueue(connectCtx, nil)
	connectCancel()
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return &commandEnv{environment: env, ctx: ctx}, h, func() {
		h.close()
		cancel()
	}, nil
}
