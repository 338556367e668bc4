package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/Sweet-James-Lannon/ai-check-validation-system/internal/config"
	logpkg "github.com/Sweet-James-Lannon/ai-check-validation-system/internal/logger"
)

var (
	envFile string
	verbose bool
	cfg     cfgpkg.Config
)

var rootCmd = &cobra.Command{
	Use:   "checkctl",
	Short: "Inspect and repair check batches",
	Long: `checkctl previews how a scanned batch would be split into checks, ingests batches
against the configured stores, and works with check file names.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			cfg = cfgpkg.Load(envFile)
		} else {
			cfg = cfgpkg.Load()
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logpkg.Init(logpkg.Options{Service: "checkctl", Level: level, Pretty: true, Stdout: os.Stderr})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) { logpkg.Close() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file to load")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
