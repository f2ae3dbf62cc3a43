package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"vigil/core"
	"vigil/detect"
	"vigil/ingest"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Flags for rules commands
var (
	outputJSON       bool
	maxPatternLength int
	matchTimeout     time.Duration
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and try out detection rule files",
	}

	rulesCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rulesCmd.PersistentFlags().IntVar(&maxPatternLength, "max-pattern-length", detect.DefaultMaxPatternLength, "Longest regex pattern accepted")
	rulesCmd.PersistentFlags().DurationVar(&matchTimeout, "match-timeout", detect.DefaultMatchTimeout, "Time limit for a single regex match")

	rulesCmd.AddCommand(newRulesCheckCmd())
	rulesCmd.AddCommand(newRulesTestCmd())
	return rulesCmd
}

func loadOptions() detect.LoadOptions {
	return detect.LoadOptions{MaxPatternLength: maxPatternLength, MatchTimeout: matchTimeout}
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Compile a rule file and list its rules",
		Long: `Compile a YAML or JSON rule file exactly as the server does at startup.
Exits non-zero when any rule is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			rules, err := detect.LoadRules(args[0], loadOptions())
			if err != nil {
				errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", args[0])
				return err
			}

			if outputJSON {
				return outputAsJSON(out, rules)
			}

			renderRulesTable(out, rules)
			successColor.Fprintf(out, "✓ %s: %d rules OK\n", args[0], len(rules))
			return nil
		},
	}
}

func newRulesTestCmd() *cobra.Command {
	var (
		source  string
		host    string
		logType string
	)

	cmd := &cobra.Command{
		Use:   "test <file> <message>",
		Short: "Evaluate one log line against a rule file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			rules, err := detect.LoadRules(args[0], loadOptions())
			if err != nil {
				errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", args[0])
				return err
			}

			logger := zap.NewNop().Sugar()
			event := ingest.NewNormalizer(logger).Normalize(ingest.Payload{
				Source:  source,
				Host:    host,
				Message: args[1],
				LogType: logType,
			})
			matched := detect.NewEngine(rules, logger).Evaluate(event)

			if outputJSON {
				return outputAsJSON(out, map[string]interface{}{"event": event, "matched": matched})
			}

			headerColor.Fprintln(out, "EXTRACTED FIELDS")
			renderFields(out, event)
			fmt.Fprintln(out)

			if len(matched) == 0 {
				warningColor.Fprintln(out, "No rules matched")
				return nil
			}
			headerColor.Fprintln(out, "MATCHED RULES")
			renderRulesTable(out, matched)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "cli", "Event source")
	cmd.Flags().StringVar(&host, "host", "", "Event host")
	cmd.Flags().StringVar(&logType, "log-type", "", "Log type hint (syslog, json, ...)")
	return cmd
}

// renderRulesTable displays rules as a table
func renderRulesTable(w io.Writer, rules []*core.Rule) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Severity", "Description"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range rules {
		table.Append([]string{r.ID, formatSeverity(r.Severity), r.Description})
	}
	table.Render()
}

// renderFields displays an event's extracted fields and IPs
func renderFields(w io.Writer, event *core.Event) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	table.Append([]string{"log_type", event.LogType})
	for _, key := range slices.Sorted(maps.Keys(event.Fields)) {
		table.Append([]string{key, event.Fields[key]})
	}
	if len(event.IPs) > 0 {
		table.Append([]string{"ips", strings.Join(event.IPs, ", ")})
	}
	table.Render()
}

// formatSeverity colors severity levels
func formatSeverity(s core.Severity) string {
	switch s {
	case core.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case core.SeverityHigh:
		return color.New(color.FgRed).Sprint(s)
	case core.SeverityMedium:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgCyan).Sprint(s)
	}
}

func outputAsJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
