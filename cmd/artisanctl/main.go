package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/artisan-nft/pkg/artisan"
	"github.com/tendant/artisan-nft/pkg/artisan/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", artisan.UserMessage(err))
		os.Exit(1)
	}
}

// NewRootCommand creates the artisanctl command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "artisanctl",
		Short: "Artisan marketplace operator CLI",
		Long: `Artisan marketplace operator CLI

Browses items and creators and submits marketplace transactions using the
same configuration as the server (CONTRACT_ADDRESS, LEDGER_*, SIGNER_*,
STORAGE_URL, DATABASE_URL).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("env-prefix", "", "prefix for configuration environment variables")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewItemsCommand())
	rootCmd.AddCommand(NewCreatorsCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewMintCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewDelistCommand())
	rootCmd.AddCommand(NewBuyCommand())
	rootCmd.AddCommand(NewActivityCommand())
	rootCmd.AddCommand(NewSessionCommand())

	return rootCmd
}

// newClient builds a marketplace client from the environment. Writes need a
// connected session; connect reports why one could not be established.
func newClient(cmd *cobra.Command, connect bool) (*config.Client, error) {
	prefix, _ := cmd.Flags().GetString("env-prefix")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(config.WithEnv(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	client, err := cfg.BuildWithLogger(contextOf(cmd), logger)
	if err != nil {
		return nil, err
	}

	if connect && !client.Session.Connect(contextOf(cmd)) {
		err := client.Session.Err()
		client.Close()
		if err == nil {
			err = artisan.ErrNotConnected
		}
		return nil, err
	}
	return client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
