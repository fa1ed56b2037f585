package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/models"
)

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Classify every stored series and rank the matches",
		Long: `Analyze the most recent window of every series in the candle store and
list the raw pattern matches, best similarity first.`,
		Example: `  scanner scan
  scanner scan --timeframe 5m --min-similarity 60 --bias bullish
  scanner scan --pattern DOUBLE_BOTTOM --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			timeframe, _ := cmd.Flags().GetString("timeframe")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			filter := engine.Filter{}
			filter.MinSimilarity, _ = cmd.Flags().GetFloat64("min-similarity")
			filter.Pattern, _ = cmd.Flags().GetString("pattern")
			filter.Bias, _ = cmd.Flags().GetString("bias")
			if filter.Bias != "" && filter.Bias != "bullish" && filter.Bias != "bearish" {
				return fmt.Errorf("--bias must be bullish or bearish, got %q", filter.Bias)
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			series, err := st.ListSeries(ctx)
			if err != nil {
				return err
			}
			keys := make([]models.Key, 0, len(series))
			for _, s := range series {
				if timeframe == "" || s.Timeframe == timeframe {
					keys = append(keys, models.NewKey(s.Symbol, s.Timeframe))
				}
			}
			if len(keys) == 0 {
				if output.IsJSON() {
					return output.JSON([]engine.ScreenResult{})
				}
				output.Warning("No candles stored. Use 'scanner import' first.")
				return nil
			}

			eng, err := app.Engine()
			if err != nil {
				return err
			}
			window := app.Config.Engine.WindowSize
			provider := func(ctx context.Context, key models.Key) ([]models.Candle, error) {
				return st.GetRecentCandles(ctx, key.Symbol, key.Timeframe, window)
			}

			passed, failed := engine.NewScreener(eng, provider, concurrency).Scan(ctx, keys, filter)
			for _, r := range failed {
				app.Logger.Warn().Str("key", r.Key).Err(r.Err).Msg("Scan failed")
			}

			if output.IsJSON() {
				if passed == nil {
					passed = []engine.ScreenResult{}
				}
				return output.JSON(passed)
			}

			if len(passed) == 0 {
				output.Warning("No series matched (%d scanned, %d failed)", len(keys), len(failed))
				return nil
			}
			table := NewTable(output, "KEY", "PATTERN", "SIMILARITY", "BIAS", "TARGET", "STATUS")
			for _, r := range passed {
				det := r.Detection
				table.AddRow(
					r.Key,
					det.PatternName,
					FormatSimilarity(det.Similarity),
					output.BiasText(det.IsBullish),
					FormatPrice(det.TargetPrice),
					output.StatusText(det.Status),
				)
			}
			table.Render()
			output.Dim("%d of %d series matched, %d failed", len(passed), len(keys), len(failed))
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "only scan series of this timeframe")
	cmd.Flags().Float64("min-similarity", 0, "minimum similarity (0-100)")
	cmd.Flags().String("pattern", "", "only report this pattern")
	cmd.Flags().String("bias", "", "only report bullish or bearish patterns")
	cmd.Flags().Int("concurrency", 4, "number of series analyzed in parallel")

	return cmd
}
