package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sparkgate",
	Short: "Sparkgate — budget-constrained query orchestration",
	Long:  "Sparkgate dispatches user queries across upstream language models under a per-account spark budget, with fallback sequencing, multi-model fan-out, answer summarization, conflict detection, and a transaction ledger.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/sparkgate.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
