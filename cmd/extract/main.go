package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm/provider"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
)

// extract runs one document through rasterize, extract and parse and prints the
// resulting session as JSON. Nothing is saved.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: extract <file> [company_id]")
		os.Exit(2)
	}
	path := os.Args[1]
	companyID := "cli"
	if len(os.Args) >= 3 {
		companyID = os.Args[2]
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read document", "path", path, "error", err)
		os.Exit(1)
	}

	extractor, err := provider.New(cfg.LLM, logger)
	if err != nil {
		logger.Error("build extraction client", "error", err)
		os.Exit(2)
	}
	rasterOpts := raster.Options{
		Page:     cfg.Raster.Page,
		Scale:    cfg.Raster.Scale,
		Format:   raster.Format(cfg.Raster.Format),
		Quality:  cfg.Raster.Quality,
		MaxWidth: cfg.Raster.MaxWidth,
	}
	rasterizer := raster.New(rasterOpts, logger)
	machine := pipeline.NewMachine(pipeline.Config{
		DateOffsetDays: cfg.Pipeline.DateOffsetDays,
		MaxTokens:      cfg.LLM.MaxTokens,
		Raster:         rasterizer.Defaults(),
	})
	p := pipeline.New(machine, rasterizer, extractor, nil, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+time.Minute)
	defer cancel()

	start := time.Now()
	snap, err := p.Upload(ctx, companyID, pipeline.Document{
		Data:     data,
		MIMEType: "application/octet-stream",
		Filename: filepath.Base(path),
	})
	if err != nil {
		logger.Error("extract.run.error", "path", path, "error", err)
		os.Exit(1)
	}
	logger.Info("extract.run.done", "state", snap.State, "source", snap.Source, "elapsed_ms", time.Since(start).Milliseconds())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
	if snap.State == pipeline.StateFailed {
		os.Exit(1)
	}
}
