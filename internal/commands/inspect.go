package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frno10/ExpenseTracker-sub000/internal/config"
	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// inspectReport is what inspect prints for one file.
type inspectReport struct {
	File     string             `json:"file"`
	MIMEType string             `json:"mime_type"`
	Encoding string             `json:"encoding,omitempty"`
	Parser   string             `json:"parser"`
	Result   parser.ParseResult `json:"result"`
}

func newInspectCommand() *cobra.Command {
	var bankHint string
	var parsersFile string
	var sampleSize int

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Detect and parse a statement file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parserCfg, err := config.LoadParserConfig(parsersFile)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			registry, err := parser.NewDefaultRegistry(parserCfg, parser.FitzExtractor{}, logger)
			if err != nil {
				return fmt.Errorf("build parser registry: %w", err)
			}

			report, err := inspectFile(cmd, registry, detect.New(sampleSize), args[0], bankHint)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&bankHint, "bank", "", "bank hint for institution-specific layouts")
	cmd.Flags().StringVar(&parsersFile, "parsers-config", "", "YAML file overlaid on the parser defaults")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "bytes used for encoding detection (0 selects the default)")

	return cmd
}

func inspectFile(cmd *cobra.Command, registry *parser.Registry, detector *detect.Detector, path, bankHint string) (*inspectReport, error) {
	if err := detect.Validate(path, core.DefaultMaxFileSize); err != nil {
		return nil, err
	}

	report := &inspectReport{
		File:     filepath.Base(path),
		MIMEType: detector.DetectMIME(path),
	}
	candidate, err := parser.NewCandidate(path, report.File, report.MIMEType)
	if err != nil {
		return nil, err
	}
	p, ok := registry.FindParser(candidate)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", core.ErrUnsupportedFormat, report.File, report.MIMEType)
	}
	report.Parser = p.Name()
	if enc, ok := detector.DetectEncoding(path); ok {
		report.Encoding = enc
	}

	report.Result = p.Parse(cmd.Context(), path, parser.Options{
		BankHint: bankHint,
		Encoding: report.Encoding,
	})
	return report, nil
}

func writeReport(w io.Writer, report *inspectReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
