package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perbu/ncertrag/pkg/app"
	"github.com/perbu/ncertrag/pkg/config"
	"github.com/perbu/ncertrag/pkg/loader"
)

func main() {
	// Load .env file if it exists (for API key)
	_ = godotenv.Load()

	var (
		configPath string
		pdfDir     string
	)

	rootCmd := &cobra.Command{
		Use:           "build-index",
		Short:         "Build the chunk index from a folder of PDF textbooks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return build(ctx, configPath, pdfDir)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ./rag.yaml if present)")
	rootCmd.Flags().StringVar(&pdfDir, "pdf-dir", "", "Folder with PDF files (overrides pdf_dir)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, loader.ErrFolderNotFound):
			fmt.Fprintln(os.Stderr, "Create the folder and put your PDF textbooks in it, or pass --pdf-dir.")
		case errors.Is(err, config.ErrMissingCredential):
			fmt.Fprintln(os.Stderr, "Set the API key, or use embedding.provider: hash for an offline index.")
		}
		os.Exit(1)
	}
}

func build(ctx context.Context, configPath, pdfDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if pdfDir != "" {
		cfg.PDFDir = pdfDir
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	builder, closeIndex, err := app.NewBuilder(cfg, logger)
	if err != nil {
		return err
	}
	defer closeIndex()

	logger.Info("building index", "pdf_dir", cfg.PDFDir, "backend", cfg.Index.Backend, "model", cfg.Embedding.Model)
	report, err := builder.Run(ctx, cfg.PDFDir, app.Paths(cfg))
	for _, s := range report.Skipped {
		logger.Warn("skipped", "kind", s.Kind, "detail", s.String())
	}
	if err != nil {
		return err
	}

	fmt.Println("Index built successfully")
	fmt.Printf("  - Documents: %d\n", report.Documents)
	fmt.Printf("  - Chunks: %d\n", report.Chunks)
	fmt.Printf("  - Dimension: %d\n", report.Dimension)
	fmt.Printf("  - Skipped: %d\n", len(report.Skipped))
	if cfg.Index.Backend == "flat" {
		fmt.Printf("  - Index saved: %s\n", cfg.Index.Path)
	} else {
		fmt.Printf("  - Qdrant collection: %s\n", cfg.Index.Qdrant.Collection)
	}
	fmt.Printf("  - Chunks saved: %s\n", cfg.Index.ChunksPath)
	return nil
}
