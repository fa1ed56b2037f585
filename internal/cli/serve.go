package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/logging"
	"pattern-scanner/internal/resilience"
	"pattern-scanner/internal/server"
	"pattern-scanner/internal/store"
	"pattern-scanner/internal/stream"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection API over HTTP",
		Long: `Start the HTTP API:

  POST   /analyze-structure          classify the candles in the request body
  GET    /analyze/:symbol/:timeframe classify the stored candles of a key
  GET    /state/:symbol/:timeframe   show the stability state of a key
  DELETE /state/:symbol/:timeframe   reset the stability state of a key
  GET    /templates                  list the template library
  GET    /healthz                    component health
  GET    /metrics                    Prometheus metrics
  GET    /events                     detection events (server-sent events)

Stability state is held in memory for the lifetime of the process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := stream.NewHub(logging.WithOperation(app.Logger, "events"))
			hub.Start(ctx)
			defer hub.Stop()

			eng, err := engine.NewFromConfig(cfg, app.Logger, app.Metrics, engine.WithPublisher(hub))
			if err != nil {
				return err
			}

			var source store.CandleSource
			st, err := app.Store()
			var guarded *store.GuardedSource
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Candle store unavailable, stored-candle analysis disabled")
			} else {
				guarded = store.NewGuardedSource(st, circuitConfig(app))
				source = guarded
			}

			handler := server.NewHandler(eng, source, cfg.Engine.WindowSize)
			handler.SetEventHub(hub)
			if guarded != nil {
				handler.RegisterHealthCheck("database", resilience.DatabaseHealthCheck(st.Ping))
				handler.RegisterHealthCheck("candle-store-circuit", resilience.CircuitBreakerHealthCheck(guarded.Breaker()))
			}

			srv := server.New(handler, cfg.Server, app.Metrics, app.Logger)
			if err := srv.Start(); err != nil {
				return err
			}

			<-ctx.Done()

			app.Logger.Info().Msg("Shutting down")
			return srv.Stop(context.Background())
		},
	}

	cmd.Flags().Int("port", 0, "listen port (overrides config and SCANNER_HTTP_PORT)")

	return cmd
}

// circuitConfig builds the candle store breaker settings and reports transitions.
func circuitConfig(app *App) resilience.CircuitBreakerConfig {
	cc := app.Config.Store.Circuit
	logger := logging.WithOperation(app.Logger, "circuit")
	return resilience.CircuitBreakerConfig{
		FailureThreshold: cc.FailureThreshold,
		SuccessThreshold: cc.SuccessThreshold,
		OpenTimeout:      cc.OpenTimeout,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			app.Metrics.RecordCircuitState(name, string(to))
			event := logger.Info()
			if to == resilience.CircuitOpen {
				event = logger.Warn()
			}
			event.Str("circuit", name).Str("from", string(from)).Str("to", string(to)).Msg("Circuit state changed")
		},
	}
}
