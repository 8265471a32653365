package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perbu/ncertrag/pkg/app"
	"github.com/perbu/ncertrag/pkg/config"
	"github.com/perbu/ncertrag/pkg/rag"
	"github.com/perbu/ncertrag/pkg/repl"
	"github.com/perbu/ncertrag/pkg/tui"
)

func main() {
	// Load .env file if it exists (for API key)
	_ = godotenv.Load()

	var (
		configPath string
		topK       int
		useTUI     bool
	)

	rootCmd := &cobra.Command{
		Use:           "ncert-qa [question...]",
		Short:         "Answer questions from the indexed textbooks",
		Long:          "Answers a single question given as arguments, or starts an interactive session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, topK, useTUI, strings.TrimSpace(strings.Join(args, " ")))
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ./rag.yaml if present)")
	rootCmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (overrides retrieval.top_k)")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Use the terminal UI instead of the line prompt")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, rag.ErrArtifactsNotFound):
			fmt.Fprintln(os.Stderr, "Run build-index first to create the index.")
		case errors.Is(err, config.ErrMissingCredential):
			fmt.Fprintln(os.Stderr, "Please set it in .env file or environment.")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, topK int, useTUI bool, question string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if topK < 0 {
		return fmt.Errorf("--top-k must be positive, got %d", topK)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	answerer, closeIndex, err := app.NewAnswerer(ctx, cfg, topK, logger)
	if err != nil {
		return err
	}
	defer closeIndex()

	if question != "" {
		ans := answerer.Ask(ctx, question)
		if ans.Err != nil {
			return ans.Err
		}
		repl.WriteAnswer(os.Stdout, ans)
		return nil
	}
	if useTUI {
		summary := fmt.Sprintf("model %s, top %d", cfg.Generation.Model, effectiveTopK(topK, cfg))
		return tui.Run(ctx, answerer, summary)
	}
	return repl.Run(ctx, os.Stdin, os.Stdout, answerer)
}

func effectiveTopK(flag int, cfg *config.Config) int {
	if flag > 0 {
		return flag
	}
	return cfg.Retrieval.TopK
}
