package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/walnut-ops/walnut/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage power policies",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := apiClient().ListPolicies(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tENABLED\tPRIORITY\tSTATUS\tLAST RUN")
		for _, p := range policies {
			lastRun := "-"
			if p.LastRunAt != nil {
				lastRun = fmt.Sprintf("%s (%s)", p.LastRunAt.Format("2006-01-02 15:04"), p.LastRunStatus)
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n", p.ID, p.Name, p.Enabled, p.Priority, p.Status, lastRun)
		}
		return w.Flush()
	},
}

var policyGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a policy's stored spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, spec, err := apiClient().GetPolicy(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("# %s (%s)\n", record.Name, record.Status)
		return printJSON(spec)
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <spec.json>",
	Short: "Validate a policy spec file without saving it",
	Long: `Validate runs the spec through the server's schema and compile checks.
Use "-" to read the spec from stdin. Exits non-zero when the spec has
any issue; schema issues would block saving, compile issues would only
block enabling.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := readSpec(args[0])
		if err != nil {
			return err
		}
		verdict, err := apiClient().ValidatePolicy(cmd.Context(), spec)
		if err != nil {
			return err
		}
		printIssues("schema", verdict.Schema)
		printIssues("compile", verdict.Compile)
		if !verdict.Clean() {
			return fmt.Errorf("spec has %d schema and %d compile issue(s)", len(verdict.Schema), len(verdict.Compile))
		}
		fmt.Printf("ok (hash %s)\n", verdict.Hash)
		return nil
	},
}

var policyTestCmd = &cobra.Command{
	Use:   "test <spec.json>",
	Short: "Compile a spec and print its execution plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := readSpec(args[0])
		if err != nil {
			return err
		}
		result, err := apiClient().TestPolicy(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Printf("status: %s\n", result.Status)
		return printJSON(result.Plan)
	},
}

var dryRunSpecFile string

var policyDryRunCmd = &cobra.Command{
	Use:   "dry-run [id]",
	Short: "Preview what a policy would do, per target",
	Long: `Dry-run resolves the policy's targets against current inventory and
reports one row per target without mutating anything. Pass a saved
policy id, or --spec to preview an unsaved spec file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient()
		var result *policy.DryRunResult
		var err error
		switch {
		case dryRunSpecFile != "":
			spec, rerr := readSpec(dryRunSpecFile)
			if rerr != nil {
				return rerr
			}
			result, err = c.DryRunSpec(cmd.Context(), spec)
		case len(args) == 1:
			result, err = c.DryRunPolicy(cmd.Context(), args[0])
		default:
			return fmt.Errorf("pass a policy id or --spec")
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tACTION\tSEVERITY\tPLAN\tREASON")
		for _, row := range result.Results {
			action := row.Capability + ":" + row.Verb
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.TargetID, action, row.Severity, row.Plan.Preview, row.Reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("severity: %s  transcript: %s  inventory: %s\n",
			result.Severity, result.TranscriptID, result.UsedInventory)
		return nil
	},
}

var policyInverseCmd = &cobra.Command{
	Use:   "inverse <id>",
	Short: "Derive the inverse of a saved policy",
	Long: `Inverse prints a draft spec that undoes the policy: actions reversed,
each verb replaced by its pair (shutdown/start, suspend/resume,
disable/enable), and the trigger direction flipped. The draft is not
saved; pipe it into "policy create" style tooling after review.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := apiClient().InversePolicy(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(spec)
	},
}

var policyEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], true) },
}

var policyDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], false) },
}

var policyRunsCmd = &cobra.Command{
	Use:   "runs <id>",
	Short: "Show the audit trail for a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := apiClient().PolicyRuns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tSEVERITY\tMESSAGE")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				run.CreatedAt.Format("2006-01-02 15:04:05"), run.Kind, run.Status, run.Severity, run.Message)
		}
		return w.Flush()
	},
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	record, err := apiClient().SetPolicyEnabled(cmd.Context(), id, enabled)
	if err != nil {
		return err
	}
	fmt.Printf("%s enabled=%t status=%s\n", record.ID, record.Enabled, record.Status)
	return nil
}

func printIssues(kind string, issues []policy.ValidationIssue) {
	for _, issue := range issues {
		fmt.Printf("%s  %s: %s\n", kind, issue.Path, issue.Message)
	}
}

func init() {
	policyDryRunCmd.Flags().StringVar(&dryRunSpecFile, "spec", "", "dry-run an unsaved spec file instead of a saved policy")

	policyCmd.AddCommand(policyListCmd, policyGetCmd, policyValidateCmd, policyTestCmd,
		policyDryRunCmd, policyInverseCmd, policyEnableCmd, policyDisableCmd, policyRunsCmd)
	rootCmd.AddCommand(policyCmd)
}
