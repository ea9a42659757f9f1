package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/agent/observability"
)

// =============================================================================
// 🔍 analyze 命令
// =============================================================================

var analyzeOpts struct {
	root       string
	thresholds observability.AnomalyThresholds
	jsonOutput bool
	failOn     string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <events.jsonl|->",
	Short: "Analyze exported telemetry events and report chain anomalies",
	Long: "Reads events written by the file sink (one JSON event per line, '-' for stdin),\n" +
		"summarizes delegation chains and flags those exceeding the anomaly thresholds.",
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	def := observability.DefaultAnomalyThresholds()
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.root, "root", "", "Analyze a single chain by root delegation ID")
	f.IntVar(&analyzeOpts.thresholds.MaxDepth, "max-depth", def.MaxDepth, "Depth above which a chain is anomalous")
	f.Int64Var(&analyzeOpts.thresholds.MaxDurationMs, "max-duration-ms", def.MaxDurationMs, "Duration above which a chain is anomalous")
	f.Float64Var(&analyzeOpts.thresholds.MinSuccessRate, "min-success-rate", def.MinSuccessRate, "Success rate below which a chain is anomalous")
	f.IntVar(&analyzeOpts.thresholds.MaxRetries, "max-retries", def.MaxRetries, "Retry count above which a chain is anomalous")
	f.BoolVar(&analyzeOpts.jsonOutput, "json", false, "Print the report as JSON")
	f.StringVar(&analyzeOpts.failOn, "fail-on", "", "Exit non-zero when an anomaly reaches this severity (warning, error, critical)")
}

// analysisReport analyze 命令的输出
type analysisReport struct {
	Events    int                           `json:"events"`
	Chains    []*observability.ChainAnalysis `json:"chains"`
	Anomalies []observability.Anomaly       `json:"anomalies"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if r := analyzeOpts.thresholds.MinSuccessRate; r < 0 || r > 1 {
		return fmt.Errorf("--min-success-rate must be between 0 and 1")
	}

	var failAt lifecycle.Severity
	if analyzeOpts.failOn != "" {
		sev, err := lifecycle.ParseSeverity(analyzeOpts.failOn)
		if err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
		failAt = sev
	}

	events, err := readEvents(cmd, args[0])
	if err != nil {
		return err
	}

	report, err := buildReport(events, analyzeOpts.root, analyzeOpts.thresholds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if analyzeOpts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if analyzeOpts.failOn != "" {
		n := 0
		for _, a := range report.Anomalies {
			if a.Severity >= failAt {
				n++
			}
		}
		if n > 0 {
			return fmt.Errorf("%d anomalies at or above %s", n, failAt)
		}
	}
	return nil
}

func readEvents(cmd *cobra.Command, path string) ([]observability.TelemetryEvent, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open events: %w", err)
		}
		defer f.Close()
		r = f
	}
	events, err := observability.ReadJSONL(r)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// buildReport 分析 root 指定的链，root 为空时分析全部链
func buildReport(events []observability.TelemetryEvent, root string, th observability.AnomalyThresholds) (*analysisReport, error) {
	report := &analysisReport{Events: len(events)}

	var roots []string
	if root != "" {
		roots = []string{root}
	} else {
		seen := make(map[string]struct{})
		for i := range events {
			id := events[i].RootID()
			if _, dup := seen[id]; id == "" || dup {
				continue
			}
			seen[id] = struct{}{}
			roots = append(roots, id)
		}
	}

	for _, id := range roots {
		a, err := observability.AnalyzeChain(events, id)
		if err != nil {
			return nil, err
		}
		report.Chains = append(report.Chains, a)
	}

	for _, a := range observability.FindAnomalies(events, th) {
		if root == "" || a.RootDelegationID == root {
			report.Anomalies = append(report.Anomalies, a)
		}
	}
	return report, nil
}

func printReport(w io.Writer, report *analysisReport) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%d events, %d chains\n", report.Events, len(report.Chains))

	for _, a := range report.Chains {
		fmt.Fprintln(w)
		bold.Fprintf(w, "Chain %s\n", a.RootDelegationID)
		fmt.Fprintf(w, "  Contracts:    %d (max depth %d)\n", a.TotalContracts, a.MaxDepth)
		fmt.Fprintf(w, "  Duration:     %d ms\n", a.DurationMs)
		if a.CompletionEvents > 0 {
			fmt.Fprintf(w, "  Success rate: %.1f%% of %d completions\n", a.SuccessRate*100, a.CompletionEvents)
		} else {
			fmt.Fprintln(w, "  Success rate: n/a (no completions)")
		}
		fmt.Fprintf(w, "  Retries:      %d\n", a.TotalRetries)
		fmt.Fprintf(w, "  Participants: %s\n", strings.Join(a.Participants, ", "))
	}

	fmt.Fprintln(w)
	if len(report.Anomalies) == 0 {
		fmt.Fprintln(w, color.GreenString("✓ No anomalies detected"))
		return
	}
	bold.Fprintf(w, "Anomalies (%d)\n", len(report.Anomalies))
	for _, a := range report.Anomalies {
		fmt.Fprintf(w, "  %s %s %s: %s\n",
			severityLabel(a.Severity), a.RootDelegationID, a.Type, a.Message)
	}
}

func severityLabel(s lifecycle.Severity) string {
	label := "[" + strings.ToUpper(s.String()) + "]"
	switch {
	case s >= lifecycle.SeverityError:
		return color.RedString(label)
	case s == lifecycle.SeverityWarning:
		return color.YellowString(label)
	default:
		return color.CyanString(label)
	}
}
