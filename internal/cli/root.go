// Package cli provides the command-line interface for the pattern scanner.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pattern-scanner/internal/config"
	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/logging"
	"pattern-scanner/internal/metrics"
	"pattern-scanner/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Metrics   *metrics.Recorder

	store *store.SQLiteStore
}

// Store opens the candle store on first use.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening candle store %s: %w", a.Config.Store.DBPath, err)
	}
	a.Logger.Debug().Str("path", a.Config.Store.DBPath).Msg("SQLite store initialized")
	a.store = s
	return s, nil
}

// Engine builds a detection engine from the loaded configuration.
func (a *App) Engine() (*engine.Engine, error) {
	return engine.NewFromConfig(a.Config, a.Logger, a.Metrics)
}

// Close releases resources opened by commands.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close store")
		}
		a.store = nil
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{
		Logger:  logger,
		Metrics: metrics.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "scanner",
		Short: "Chart pattern scanner",
		Long: `Pattern Scanner classifies the shape of a candle window against a library
of chart pattern templates and keeps the reported classification stable across calls.

Candles can be analyzed from a JSON file, from stdin, or from the local candle store.
The serve command exposes the same analysis over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			app.ConfigDir = dir

			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}

			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/pattern-scanner)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newTemplatesCmd(app))
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newSeriesCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Pattern Scanner v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the scanner configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"config_dir": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := config.Load(app.ConfigDir)
			if err != nil {
				if output.IsJSON() {
					output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("Configuration invalid: %v", err)
				}
				return err
			}
			if _, err := engine.LibraryFrom(cfg); err != nil {
				if output.IsJSON() {
					output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("Template library invalid: %v", err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

// showConfig displays the configuration in a human-readable format.
func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Engine")
	output.Printf("  Window Size:      %d\n", cfg.Engine.WindowSize)
	output.Printf("  Extrema Order:    %d\n", cfg.Engine.ExtremaOrder)
	output.Printf("  Min Volatility:   %g\n", cfg.Engine.MinVolatility)
	output.Println()

	output.Bold("Volume Confirmation")
	output.Printf("  Lookback:         %d\n", cfg.Volume.Lookback)
	output.Printf("  Multiplier:       %.2fx\n", cfg.Volume.Multiplier)
	output.Println()

	output.Bold("Projection")
	output.Printf("  Factor:           %.3f\n", cfg.Projection.Factor)
	output.Printf("  Steps:            %d\n", cfg.Projection.Steps)
	output.Printf("  X (start/neck/deadline): %.0f / %.0f / %.0f\n",
		cfg.Projection.StartX, cfg.Projection.NecklineX, cfg.Projection.DeadlineX)
	output.Printf("  Jitter:           %.2f\n", cfg.Projection.Jitter)
	output.Println()

	output.Bold("Stability")
	output.Printf("  Reinforce/Decay:  +%d / -%d\n", cfg.Stability.ReinforceStep, cfg.Stability.DecayStep)
	output.Printf("  Max Stability:    %d\n", cfg.Stability.MaxStability)
	output.Printf("  Lock Threshold:   %d\n", cfg.Stability.LockThreshold)
	output.Printf("  Override:         %s\n", FormatConfidence(cfg.Stability.OverrideConfidence))
	output.Printf("  Display Gate:     %s and stability %d\n",
		FormatConfidence(cfg.Stability.DisplayConfidence), cfg.Stability.DisplayStability)
	output.Println()

	output.Bold("Server")
	output.Printf("  Listen:           %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	output.Printf("  CORS:             %v\n", cfg.Server.CORS)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:         %s\n", cfg.Store.DBPath)
	output.Printf("  Log Level:        %s\n", cfg.Logging.Level)
	if len(cfg.Templates) > 0 {
		output.Printf("  Extra Templates:  %d\n", len(cfg.Templates))
	}

	return nil
}
