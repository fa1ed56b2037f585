package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"pattern-scanner/internal/models"
)

// Output writes command results either as colored text or as JSON.
type Output struct {
	w        io.Writer
	jsonMode bool
	color    bool
}

// NewOutput creates an Output for cmd. Color is used only when writing text to a terminal.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		w:        w,
		jsonMode: jsonMode,
		color:    !jsonMode && isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.w, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format, args...)
}

// Success prints a line in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(format, args, color.FgGreen)
}

// Error prints a line in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(format, args, color.FgRed)
}

// Warning prints a line in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(format, args, color.FgYellow)
}

// Bold prints a bold line.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(format, args, color.Bold)
}

// Dim prints a faint line.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(format, args, color.Faint)
}

func (o *Output) line(format string, args []interface{}, attrs ...color.Attribute) {
	fmt.Fprintln(o.w, o.paint(fmt.Sprintf(format, args...), attrs...))
}

// paint applies attrs to s when color is enabled. The color is forced on because
// the package-level detection only looks at os.Stdout.
func (o *Output) paint(s string, attrs ...color.Attribute) string {
	if !o.color {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

// StatusText returns the detection status colored by urgency.
func (o *Output) StatusText(status models.Status) string {
	s := string(status)
	switch status {
	case models.StatusActiveBreakout:
		return o.paint(s, color.FgGreen, color.Bold)
	case models.StatusWeakBreakout:
		return o.paint(s, color.FgRed)
	case models.StatusAILocked:
		return o.paint(s, color.FgMagenta)
	case models.StatusWaiting:
		return o.paint(s, color.FgYellow)
	default:
		return o.paint(s, color.Faint)
	}
}

// BiasText returns BULLISH in green or BEARISH in red.
func (o *Output) BiasText(isBullish bool) string {
	if isBullish {
		return o.paint("BULLISH", color.FgGreen)
	}
	return o.paint("BEARISH", color.FgRed)
}

// Table buffers rows and renders them as aligned columns.
type Table struct {
	tw table.Writer
}

// NewTable creates a borderless table writing to output.
func NewTable(output *Output, headers ...string) *Table {
	tw := table.NewWriter()
	tw.SetOutputMirror(output.w)

	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = false
	style.Options.SeparateHeader = true
	if output.color {
		style.Color.Header = text.Colors{text.Bold}
	}
	tw.SetStyle(style)
	tw.AppendHeader(toRow(headers))

	return &Table{tw: tw}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.tw.AppendRow(toRow(cells))
}

// Render writes the table.
func (t *Table) Render() {
	t.tw.Render()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

// Box draws a rounded box with a title around content lines.
func (o *Output) Box(title string, content []string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(o.w)

	style := table.StyleRounded
	if !o.color {
		style = table.StyleDefault
	} else {
		style.Color.Border = text.Colors{text.Faint}
		style.Title.Colors = text.Colors{text.Bold}
	}
	style.Options.SeparateRows = false
	tw.SetStyle(style)
	tw.SetTitle(title)

	for _, line := range content {
		tw.AppendRow(table.Row{line})
	}
	tw.Render()
}
