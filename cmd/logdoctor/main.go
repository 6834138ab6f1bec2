// Package main is the entry point for logdoctor, the streaming log
// compression and failure diagnosis tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDebug    bool
	flagLogFile  string
	flagChunk    int
	flagFollow   bool
	flagRulesDir string
)

var rootCmd = &cobra.Command{
	Use:   "logdoctor",
	Short: "Compress training job logs and diagnose failures",
	Long: `logdoctor ingests a streaming log from a long-running compute job,
suppresses recognized noise using learned filter rules, and diagnoses the
remaining signal when a failure occurs: fast deterministic rule matching
first, retrieval-augmented reasoning when no rule applies. Diagnoses feed
back into the rule sets, so recurring failures resolve faster over time.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagRulesDir, "rules-dir", "", "directory holding the rule files (default $RULES_DIR or ./rules)")

	runCmd.Flags().StringVar(&flagLogFile, "log-file", "", "log file to process (default $LOG_FILE)")
	runCmd.Flags().IntVar(&flagChunk, "chunk-size", 0, "log lines per chunk (default $CHUNK_SIZE or 20)")
	runCmd.Flags().BoolVar(&flagFollow, "follow", false, "keep tailing the log file as the job appends to it")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
