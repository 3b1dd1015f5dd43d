package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/export"
	repo "github.com/joseph-ayodele/invoice-dispatch/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func parseDay(flagName, v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		printError("Error: invalid --%s date format, use YYYY-MM-DD: %v\n", flagName, err)
		os.Exit(1)
	}
	return &t
}

func main() {
	var (
		company = flag.String("company", "", "company id to export (required)")
		out     = flag.String("out", "", "output XLSX file path (defaults to dispatches-<company>.xlsx)")
		fromStr = flag.String("from", "", "from date YYYY-MM-DD")
		toStr   = flag.String("to", "", "to date YYYY-MM-DD")
	)
	flag.Parse()

	if *company == "" {
		printError("Error: --company is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = fmt.Sprintf("dispatches-%s.xlsx", *company)
	}
	from := parseDay("from", *fromStr)
	to := parseDay("to", *toStr)

	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := common.LoadConfig()
	db, err := repo.Open(ctx, repo.Config{
		DSN:         cfg.Database.DSN,
		MaxConns:    2,
		DialTimeout: cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	dispatches := repo.NewDispatchRepository(db, logger)
	stock := repo.NewStockRepository(db, logger)
	exportService := export.NewService(dispatches, stock, logger)

	logger.Info("exporting to XLSX", "company_id", *company, "output", *out)
	xlsxBytes, err := exportService.DispatchWorkbookXLSX(ctx, *company, from, to)
	if err != nil {
		logger.Error("failed to export dispatches", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}
	logger.Info("export complete", "output", *out, "bytes", len(xlsxBytes))
}
