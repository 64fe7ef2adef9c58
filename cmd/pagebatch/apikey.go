package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pagebatch/internal/infra/credentials"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the vision provider API keys kept in the database",
	}
	cmd.AddCommand(newAPIKeySetCmd())
	return cmd
}

func newAPIKeySetCmd() *cobra.Command {
	var note, provider string
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store the API key used when the provider's environment variable is unset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			if key == "" {
				return errors.New("api key must not be empty")
			}
			provider = strings.ToLower(strings.TrimSpace(provider))
			switch provider {
			case credentials.ProviderOpenAI, credentials.ProviderGemini:
			default:
				return fmt.Errorf("unsupported provider %q", provider)
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			if e.stores.Credentials == nil {
				return fmt.Errorf("store %q keeps no credentials: use --store postgres", e.cfg.StoreDriver)
			}
			props := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339)}
			if note != "" {
				props["note"] = note
			}
			if err := e.stores.Credentials.SetToken(cmd.Context(), provider, key, props); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s api key stored\n", provider)
			return err
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Free-form note kept next to the key.")
	cmd.Flags().StringVar(&provider, "provider", credentials.ProviderOpenAI, "Provider the key belongs to (openai or gemini).")
	return cmd
}
