package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ratekeeper",
	Short: "Ratekeeper: metering and rating API",
	Long:  "Ratekeeper stores rated usage frames, keeps versioned pricing configurations and answers rating queries per tenant, namespace, node, pod and metric.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
