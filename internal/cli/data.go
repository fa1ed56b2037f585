package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/logging"
	"pattern-scanner/internal/models"
	"pattern-scanner/internal/security"
	"pattern-scanner/internal/store"
	"pattern-scanner/pkg/utils"
)

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import candles into the candle store",
		Long: `Save candles from a JSON file into the local candle store.

The file holds either a JSON array of candles or an analyze request object.
Every candle needs a timestamp (unix milliseconds); a candle with the same
timestamp as a stored one replaces it.`,
		Example: `  scanner import btc-1m.json --symbol BTCUSDT --timeframe 1m
  curl -s https://example.com/candles | scanner import - -s ETH -t 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")

			req, err := readAnalyzeRequest(ctx, args[0], cmd.InOrStdin())
			if err != nil {
				output.Error("Invalid input: %v", err)
				return err
			}
			for i, in := range req.OHLC {
				if in.Timestamp == nil {
					err := fmt.Errorf("ohlc[%d]: timestamp is required for import", i)
					output.Error("%v", err)
					return err
				}
			}
			if symbol == "" {
				symbol = req.Symbol
			}
			if timeframe == "" {
				timeframe = req.Timeframe
			}

			key, err := security.NewInputValidator(true).ValidateKey(symbol, timeframe)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			st, err := app.Store()
			if err != nil {
				return err
			}

			logger := logging.WithKey(logging.WithOperation(app.Logger, "import"), key.String())
			candles := req.Candles()

			retry := utils.DefaultRetryConfig()
			retry.Retryable = store.IsBusy
			retry.OnRetry = func(err error, wait time.Duration) {
				logger.Debug().Err(err).Dur("wait", wait).Msg("Database busy, retrying")
			}
			err = utils.Retry(ctx, retry, func(ctx context.Context) error {
				return st.SaveCandles(ctx, key.Symbol, key.Timeframe, candles)
			})
			if err != nil {
				output.Error("Failed to save candles: %v", err)
				return err
			}
			logger.Info().Int("candles", len(candles)).Msg("Candles imported")

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"key":      key.String(),
					"imported": len(candles),
				})
			}
			output.Success("Imported %d candles for %s", len(candles), key)
			return nil
		},
	}

	cmd.Flags().StringP("symbol", "s", "", "instrument symbol (default: from file or DEFAULT)")
	cmd.Flags().StringP("timeframe", "t", "", "candle timeframe (default: from file or 1m)")

	return cmd
}

func newSeriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "series",
		Short: "List the candle series in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}

			series, err := st.ListSeries(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(series)
			}
			if len(series) == 0 {
				output.Warning("No candles stored. Use 'scanner import' first.")
				return nil
			}

			table := NewTable(output, "SYMBOL", "TIMEFRAME", "CANDLES", "FIRST", "LAST", "AGE", "BEHIND")
			for _, s := range series {
				age := time.Since(s.Last)
				table.AddRow(
					s.Symbol,
					s.Timeframe,
					fmt.Sprintf("%d", s.Count),
					FormatDateTime(s.First),
					FormatDateTime(s.Last),
					FormatAge(age),
					candlesBehind(age, s.Timeframe),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <symbol> <timeframe>",
		Short: "Export stored candles as JSON",
		Long: `Write the stored candles of a key as a JSON candle array, the same format
import and analyze --file accept. Without --to the export ends at the newest
stored candle.`,
		Example: `  scanner export BTCUSDT 1m > btc.json
  scanner export BTCUSDT 1m --from 2024-01-01 --to 2024-01-31T23:59:59Z -o jan.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			key, err := security.NewInputValidator(true).ValidateKey(args[0], args[1])
			if err != nil {
				return err
			}
			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")
			path, _ := cmd.Flags().GetString("output")

			from := time.Unix(0, 0)
			if fromFlag != "" {
				if from, err = parseTime(fromFlag); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			st, err := app.Store()
			if err != nil {
				return err
			}

			var to time.Time
			if toFlag != "" {
				if to, err = parseTime(toFlag); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			} else {
				to, err = st.GetCandlesFreshness(ctx, key.Symbol, key.Timeframe)
				if err != nil {
					return err
				}
				if to.IsZero() {
					return apperrors.NoCandles(key.Symbol, key.Timeframe)
				}
			}

			candles, err := st.GetCandles(ctx, key.Symbol, key.Timeframe, from, to)
			if err != nil {
				return err
			}
			inputs := make([]models.CandleInput, len(candles))
			for i, c := range candles {
				inputs[i] = models.NewCandleInput(c)
			}

			w := cmd.OutOrStdout()
			if path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := json.NewEncoder(w).Encode(inputs); err != nil {
				return fmt.Errorf("writing candles: %w", err)
			}
			app.Logger.Debug().Str("key", key.String()).Int("candles", len(inputs)).Msg("Candles exported")
			return nil
		},
	}

	cmd.Flags().String("from", "", "first candle time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last candle time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	return cmd
}

// candlesBehind is the number of whole candles of timeframe that fit into age.
func candlesBehind(age time.Duration, timeframe string) string {
	d, err := security.TimeframeDuration(timeframe)
	if err != nil || age < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", age/d)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
