package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	Data        []string
	DatabaseURL string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiler over HTTP",
		Long: `Start the HTTP compile service.

POST /v1/compile and /v1/explain are always available. POST /v1/run is
enabled when a database is configured (--data or --database-url).

The server stops gracefully on SIGINT or SIGTERM.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address; default from config")
	cmd.Flags().StringSliceVar(&opts.Data, "data", nil, "resource files to serve /v1/run from (SQLite)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL connection URL for /v1/run")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	s, err := opts.load()
	if err != nil {
		return err
	}
	cfg := s.cfg
	logger := opts.logger(cmd)

	srvOpts := server.Options{
		Logger: logger,
		Compiler: compiler.Options{
			ResourceType:   cfg.ResourceType,
			Table:          cfg.Table,
			IDColumn:       cfg.IDColumn,
			ResourceColumn: cfg.ResourceColumn,
			Schema:         s.schema,
		},
	}
	if d, err := compiler.DialectByName(cfg.Dialect); err == nil {
		srvOpts.Compiler.Dialect = d
	}

	if len(opts.Data) > 0 || opts.DatabaseURL != "" || (cfg.UsesPostgres() && cfg.DatabaseURL != "") {
		exec, dialectName, err := openExecutor(ctx, cfg, opts.DatabaseURL)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
		}
		defer exec.Close()
		if err := loadData(ctx, exec, opts.Data, formatter); err != nil {
			return err
		}
		if err := exec.EnsureTable(ctx, cfg.ResourceType); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
		}
		srvOpts.Executor = exec
		srvOpts.ExecutorDialect = dialectName
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	if err := server.New(srvOpts).Run(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "server", err)
	}
	return nil
}
