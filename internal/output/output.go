// Package output renders operator-facing CLI output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gopkg.in/yaml.v3"
)

// Format selects how structured results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output value.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", raw)
	}
}

// UI prints colored messages and tables.
type UI struct {
	Format Format
	Out    io.Writer
	ErrOut io.Writer
}

// New creates a UI writing to stdout/stderr.
func New() *UI {
	return &UI{Format: FormatTable, Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// StateColor colors ticket statuses and job states.
func StateColor(state string) string {
	switch strings.ToLower(state) {
	case "resolved", "closed", "succeeded":
		return green(state)
	case "in_progress", "pending_clarification", "running", "failed_retryable":
		return yellow(state)
	case "escalated", "failed_terminal":
		return red(state)
	case "assigned", "new", "queued":
		return cyan(state)
	default:
		return state
	}
}

// RateColor colors a success percentage.
func RateColor(rate float64) string {
	s := fmt.Sprintf("%.1f%%", rate)
	switch {
	case rate >= 80:
		return green(s)
	case rate >= 50:
		return yellow(s)
	default:
		return red(s)
	}
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

// Structured reports whether results should be encoded instead of tabulated.
func (u *UI) Structured() bool {
	return u.Format == FormatJSON || u.Format == FormatYAML
}

// Encode writes v as JSON or YAML according to Format.
func (u *UI) Encode(v any) error {
	switch u.Format {
	case FormatJSON:
		enc := json.NewEncoder(u.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(u.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", u.Format)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
