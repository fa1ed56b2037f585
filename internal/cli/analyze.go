package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pattern-scanner/internal/analysis/stability"
	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/models"
	"pattern-scanner/internal/security"
	"pattern-scanner/internal/server"
)

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify the chart pattern of a candle window",
		Long: `Run the detection pipeline on a candle window.

Candles are read from --file (a JSON array of candles or an analyze request
object, "-" for stdin). Without --file the most recent candles of the key are
read from the candle store.

Stability state lives only as long as the process. --replay N slides the window
over the last N candles and feeds each position through the same engine, showing
how the displayed classification builds up and locks.`,
		Example: `  scanner analyze --file btc.json --symbol BTCUSDT --timeframe 1m
  cat candles.json | scanner analyze --file - --json
  scanner analyze --symbol BTCUSDT --timeframe 5m --replay 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			file, _ := cmd.Flags().GetString("file")
			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")
			replay, _ := cmd.Flags().GetInt("replay")
			if replay < 1 {
				replay = 1
			}
			size := app.Config.Engine.WindowSize

			var candles []models.Candle
			if file != "" {
				req, err := readAnalyzeRequest(ctx, file, cmd.InOrStdin())
				if err != nil {
					output.Error("Invalid input: %v", err)
					return err
				}
				if symbol == "" {
					symbol = req.Symbol
				}
				if timeframe == "" {
					timeframe = req.Timeframe
				}
				candles = req.Candles()
			}
			if timeframe == "" {
				timeframe = "1m"
			}

			key, err := security.NewInputValidator(true).ValidateKey(symbol, timeframe)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if candles == nil {
				st, err := app.Store()
				if err != nil {
					return err
				}
				candles, err = st.GetRecentCandles(ctx, key.Symbol, key.Timeframe, size+replay-1)
				if err != nil {
					output.Error("Failed to read candles for %s: %v", key, err)
					return err
				}
			}

			eng, err := app.Engine()
			if err != nil {
				return err
			}

			windows := slidingWindows(candles, size, replay)
			results := make([]models.Detection, 0, len(windows))
			states := make([]stability.State, 0, len(windows))
			for _, w := range windows {
				det, err := eng.Analyze(key, w)
				if err != nil {
					output.Error("Analysis failed: %v", err)
					return err
				}
				state, _ := eng.State(key)
				results = append(results, det)
				states = append(states, state)
			}

			if output.IsJSON() {
				if replay > 1 {
					return output.JSON(results)
				}
				return output.JSON(results[0])
			}

			if len(results) > 1 {
				printReplay(output, results, states)
				output.Println()
			}
			last := len(results) - 1
			printDetection(output, key, results[last], states[last])
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "JSON candle file (\"-\" for stdin)")
	cmd.Flags().StringP("symbol", "s", "", "instrument symbol (default: from file or DEFAULT)")
	cmd.Flags().StringP("timeframe", "t", "", "candle timeframe (default: from file or 1m)")
	cmd.Flags().Int("replay", 1, "number of successive window positions to feed through the engine")

	return cmd
}

// slidingWindows returns up to n windows of at most size candles, each ending one
// candle later than the previous and the last ending at the newest candle.
func slidingWindows(candles []models.Candle, size, n int) [][]models.Candle {
	steps := len(candles) - size + 1
	if steps > n {
		steps = n
	}
	if steps < 1 {
		steps = 1
	}

	windows := make([][]models.Candle, 0, steps)
	for k := 0; k < steps; k++ {
		end := len(candles) - (steps - 1 - k)
		start := end - size
		if start < 0 {
			start = 0
		}
		windows = append(windows, candles[start:end])
	}
	return windows
}

// readAnalyzeRequest reads either an analyze request object or a bare candle array
// and applies request defaults and validation.
func readAnalyzeRequest(ctx context.Context, path string, stdin io.Reader) (models.AnalyzeRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return models.AnalyzeRequest{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var req models.AnalyzeRequest
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		err = json.Unmarshal(data, &req.OHLC)
	} else {
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		return models.AnalyzeRequest{}, fmt.Errorf("decoding candles: %w", err)
	}

	if verrs := server.ValidateStruct(ctx, &req); verrs != nil {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			if v.Field != "" {
				msgs[i] = v.Field + ": " + v.Message
			} else {
				msgs[i] = v.Message
			}
		}
		return models.AnalyzeRequest{}, fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return req, nil
}

func printDetection(output *Output, key models.Key, det models.Detection, state stability.State) {
	lines := []string{
		fmt.Sprintf("Status:      %s", output.StatusText(det.Status)),
	}
	if det.PatternName != "" {
		lines = append(lines,
			fmt.Sprintf("Raw match:   %s (%s)", det.PatternName, FormatSimilarity(det.Similarity)),
			fmt.Sprintf("Bias:        %s", output.BiasText(det.IsBullish)),
			fmt.Sprintf("Neckline:    %s", FormatPrice(det.Edges.Neckline)),
			fmt.Sprintf("Support:     %s", FormatPrice(det.Edges.Support)),
			fmt.Sprintf("Target:      %s", FormatPrice(det.TargetPrice)),
			fmt.Sprintf("Candle:      %s", det.CandleSignal),
			fmt.Sprintf("Volume conf: %v", det.VolumeConfirmed),
		)
	}
	lines = append(lines,
		fmt.Sprintf("Volatility:  %s", FormatPercent(det.Volatility*100)),
		fmt.Sprintf("Stability:   %d (locked: %s)", state.Score, lockedText(state)),
	)

	output.Box(fmt.Sprintf("%s  %s", key, det.Name), lines)
}

func printReplay(output *Output, results []models.Detection, states []stability.State) {
	table := NewTable(output, "#", "DISPLAYED", "RAW MATCH", "SIMILARITY", "STATUS", "STABILITY")
	for i, det := range results {
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			det.Name,
			det.PatternName,
			FormatSimilarity(det.Similarity),
			output.StatusText(det.Status),
			fmt.Sprintf("%d", states[i].Score),
		)
	}
	table.Render()
}

func lockedText(state stability.State) string {
	if state.LockedPattern == "" {
		return "-"
	}
	return state.LockedPattern
}

func newTemplatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the pattern templates in matching order",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			lib, err := engine.LibraryFrom(app.Config)
			if err != nil {
				return err
			}

			templates := lib.Templates()
			if output.IsJSON() {
				out := make([]server.TemplateResponse, len(templates))
				for i, t := range templates {
					out[i] = server.TemplateResponse{Name: t.Name, Shape: t.Shape, Bias: string(t.Bias)}
				}
				return output.JSON(out)
			}

			table := NewTable(output, "#", "TEMPLATE", "BIAS", "POINTS")
			for i, t := range templates {
				table.AddRow(fmt.Sprintf("%d", i+1), t.Name, output.BiasText(t.Bias.IsBullish()), fmt.Sprintf("%d", len(t.Shape)))
			}
			table.Render()
			return nil
		},
	}
}
