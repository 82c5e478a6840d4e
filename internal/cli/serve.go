package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"loandesk/internal/catalog"
	"loandesk/internal/loan"
	"loandesk/internal/membership"
	"loandesk/internal/storage/postgres"
	"loandesk/internal/sweeper"
	"loandesk/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	NoSweep bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily overdue sweep",
		Long: `Run the loandesk HTTP API.

The schema is applied on start. Unless --no-sweep is given, active loans
past their due date are marked overdue every day at the configured time.

Example:
  loandesk serve --config loandesk.yaml
  loandesk serve --addr :9090 --no-sweep`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoSweep, "no-sweep", false, "disable the daily overdue sweep")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := postgres.Migrate(ctx, a.db); err != nil {
		return err
	}

	if !opts.NoSweep {
		sw, err := sweeper.New(a.loans, cfg.SweepAt, cfg.Location(), logger)
		if err != nil {
			return err
		}
		go func() {
			if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sweeper stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loandesk listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(a *app, logger *slog.Logger) http.Handler {
	auth := membership.NewHandler(a.members, a.tokens, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Mount("/auth", auth.Routes())
		r.Group(func(r chi.Router) {
			r.Use(membership.Authenticate(a.tokens))
			r.Get("/me", auth.HandleMe)
			r.Mount("/members", auth.AdminRoutes())
			r.Mount("/books", catalog.NewHandler(a.catalog, logger).Routes())
			r.Mount("/loans", loan.NewHandler(a.loans, a.journal, logger).Routes())
		})
	})
	return r
}
