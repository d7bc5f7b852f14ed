package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "venuectl",
		Short:   "Operations tool for the venue payment core",
		Version: Version,
	}

	rootCmd.AddCommand(generateKeyCmd())
	rootCmd.AddCommand(encryptKeyCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
