package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/interpret"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		in          = flag.String("in", "", "input CSV or XLSX file (required)")
		out         = flag.String("out", "", "output file path (defaults to processed_<name> next to input)")
		instruction = flag.String("instruction", "", "natural-language transformation instruction (required)")
		replacement = flag.String("replacement", "", "replacement text for replace operations")
		columns     = flag.String("columns", "", "comma-separated target columns (defaults to all)")
		showPlan    = flag.Bool("plan", false, "print the compiled plan and exit without transforming")
	)
	flag.Parse()

	if *in == "" {
		printError("Error: --in is required\n")
		os.Exit(1)
	}
	if *instruction == "" {
		printError("Error: --instruction is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var targets []string
	for _, c := range strings.Split(*columns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			targets = append(targets, c)
		}
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		logger.Error("failed to read input", "path", *in, "error", err)
		os.Exit(1)
	}
	format := constants.DetectFormat("", *in, data)
	if format == "" {
		logger.Error("unsupported input format", "path", *in)
		os.Exit(1)
	}

	ops, err := interpret.Compile(*instruction, *replacement, targets)
	if err != nil {
		logger.Error("failed to compile instruction", "instruction", *instruction, "error", err)
		os.Exit(1)
	}
	if *showPlan {
		for i, op := range ops {
			fmt.Printf("%d. %s\n", i+1, op.Describe())
		}
		return
	}

	table, err := tabular.NewLoader(logger).Load(data, format)
	if err != nil {
		logger.Error("failed to parse input", "path", *in, "error", err)
		os.Exit(1)
	}
	logger.Info("parsed input", "rows", len(table.Rows), "columns", len(table.Columns))

	entries, summary, err := transform.NewExecutor(logger).Run(table, ops, targets)
	if err != nil {
		logger.Error("transformation failed", "error", err)
		os.Exit(1)
	}

	output, err := tabular.NewWriter(logger).Write(table, format)
	if err != nil {
		logger.Error("failed to serialize result", "error", err)
		os.Exit(1)
	}

	if *out == "" {
		base := filepath.Base(*in)
		*out = filepath.Join(filepath.Dir(*in), "processed_"+base)
	}
	if err := os.WriteFile(*out, output, 0644); err != nil {
		logger.Error("failed to write output file", "path", *out, "error", err)
		os.Exit(1)
	}

	errored := 0
	for _, e := range entries {
		if e.Outcome == transform.OutcomeError {
			errored++
		}
	}

	fmt.Printf("Transformation complete!\n")
	fmt.Printf("- Rows examined: %d\n", summary.RowsExamined)
	fmt.Printf("- Cells changed: %d\n", summary.Applied)
	fmt.Printf("- No match: %d\n", summary.NoMatch)
	fmt.Printf("- Type mismatches: %d\n", summary.TypeMismatch)
	fmt.Printf("- Errors: %d\n", errored)
	fmt.Printf("- Output: %s\n", *out)
}
