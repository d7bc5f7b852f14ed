package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/venuepay/internal/services"
)

func generateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a new random ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := services.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func encryptKeyCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt-key [api-key]",
		Short: "Encrypt a terminal API key for storage",
		Long: `Encrypt a terminal API key with ENCRYPTION_KEY.

The output can be written to terminals.api_key_encrypted directly.

Examples:
  venuectl encrypt-key sk_live_123
  venuectl encrypt-key sk_live_123 --key $(venuectl generate-key)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				_ = godotenv.Load()
				key = os.Getenv("ENCRYPTION_KEY")
			}
			if key == "" {
				return errors.New("ENCRYPTION_KEY is not set")
			}

			encryption, err := services.NewEncryptionService(key)
			if err != nil {
				return err
			}
			sealed, err := encryption.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "base64 encryption key (defaults to ENCRYPTION_KEY)")
	return cmd
}
