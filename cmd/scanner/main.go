// Command scanner classifies chart patterns in candle windows.
package main

import (
	"fmt"
	"os"

	"pattern-scanner/internal/cli"
	"pattern-scanner/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
