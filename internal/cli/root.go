// Package cli implements helpdeskctl, the operations CLI for the ticket pipeline.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spec-kit/helpdesk-service/internal/bootstrap"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/mcp"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/output"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// Ops is the pipeline maintenance surface, served by service.OpsService.
type Ops interface {
	QueueSnapshot(ctx context.Context, limit int) (worker.Snapshot, error)
	RetryFailed(ctx context.Context, ticketID string) ([]service.RetryResult, error)
	RequeueJob(ctx context.Context, jobID string) error
	Cleanup(ctx context.Context, days int) (int, error)
	Stats(ctx context.Context, days int) (service.OpsStats, error)
	EscalateStale(ctx context.Context, apply bool) ([]domain.Ticket, error)
}

// Tickets re-runs the agent on one ticket.
type Tickets interface {
	Reprocess(ctx context.Context, id string, reset bool, threadTS, source string) (worker.EnqueueStatus, error)
}

// Backend is what store-backed commands operate on.
type Backend struct {
	Ops       Ops
	Tickets   Tickets
	Knowledge mcp.Knowledge
	Detail    mcp.Tickets
	Close     func()
}

// BackendFactory connects the backend on first use, so commands such as
// token run without Postgres or Redis.
type BackendFactory func(ctx context.Context, v *viper.Viper) (*Backend, error)

type app struct {
	ui      *output.UI
	v       *viper.Viper
	factory BackendFactory
	backend *Backend
}

// Execute runs helpdeskctl and exits non-zero on failure.
func Execute(version string) {
	ui := output.New()
	root := NewRootCmd(ui, connect)
	root.Version = version
	if err := root.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(ui *output.UI, factory BackendFactory) *cobra.Command {
	a := &app{ui: ui, v: viper.New(), factory: factory}
	a.v.SetEnvPrefix("HELPDESK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	a.v.SetDefault("log_level", "warn")

	root := &cobra.Command{
		Use:   "helpdeskctl",
		Short: "Operate the helpdesk agent pipeline",
		Long: `helpdeskctl inspects and repairs the ticket processing queue:
list queued and dead jobs, retry tickets the agent never processed,
reset stale analysis, report success rates and escalate urgent tickets
nobody touched.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			format, err := output.ParseFormat(a.v.GetString("output"))
			if err != nil {
				return err
			}
			a.ui.Format = format
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.backend != nil && a.backend.Close != nil {
				a.backend.Close()
			}
		},
	}
	root.SetOut(ui.Out)
	root.SetErr(ui.ErrOut)

	root.PersistentFlags().StringP("output", "o", "table", "Output format: table, json or yaml")
	root.PersistentFlags().String("log-level", "warn", "Log level of the service stack")
	_ = a.v.BindPFlag("output", root.PersistentFlags().Lookup("output"))
	_ = a.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		a.listCmd(),
		a.retryFailedCmd(),
		a.requeueCmd(),
		a.cleanupCmd(),
		a.statsCmd(),
		a.reprocessCmd(),
		a.escalateStaleCmd(),
		a.tokenCmd(),
		a.mcpCmd(),
	)
	return root
}

func (a *app) load(ctx context.Context) (*Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := a.factory(ctx, a.v)
	if err != nil {
		return nil, err
	}
	a.backend = b
	return b, nil
}

// connect wires the real service stack from the environment.
func connect(ctx context.Context, v *viper.Viper) (*Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Logger.Level = v.GetString("log_level")
	// stdout carries command output and the MCP stream.
	cfg.Logger.Output = "stderr"
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Ops:       c.Ops,
		Tickets:   c.Tickets,
		Knowledge: c.Knowledge,
		Detail:    c.Tickets,
		Close: func() {
			c.Close(context.Background())
			_ = logger.Sync()
		},
	}, nil
}
