package cmd

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <intent-id>",
	Short: "Approve a proposed order intent",
	Long: `Bind a human approval to the exact content of a proposed intent.

The approval stores the intent's canonical hash; if the intent content ever
changes, the approval no longer covers it and execution is refused. Only the
hash of the phrase is persisted.

Example:
  tradeagent approve 1a2b3c... --phrase "I APPROVE"`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var (
	approvePhrase     string
	approvedBy        string
	approveAndExecute bool
)

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().StringVarP(&approvePhrase, "phrase", "p", "", "approval phrase (required)")
	approveCmd.Flags().StringVar(&approvedBy, "by", "", "approver name (default: current user)")
	approveCmd.Flags().BoolVar(&approveAndExecute, "execute", false, "execute immediately after approving")
	approveCmd.MarkFlagRequired("phrase")
}

func runApprove(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.close()

	by := approvedBy
	if by == "" {
		if u, err := user.Current(); err == nil {
			by = u.Username
		} else {
			by = "cli"
		}
	}

	intentID := args[0]
	if approveAndExecute {
		outcome, err := svc.exec.ApproveAndExecute(cmd.Context(), intentID, approvePhrase, by)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Intent approved: %s\n", intentID)
		printOutcome(outcome)
		return nil
	}

	if err := svc.approvals.Approve(intentID, approvePhrase, by, time.Now().UTC()); err != nil {
		return err
	}

	fmt.Printf("✓ Intent approved: %s\n", intentID)
	fmt.Printf("\nExecute with:\n  tradeagent execute %s\n", intentID)
	return nil
}
