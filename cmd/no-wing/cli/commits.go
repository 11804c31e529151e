package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/no-wing/no-wing/internal/core"
)

// RegisterCommitCommands adds agent commit tracking and verification
// commands.
func RegisterCommitCommands(root *cobra.Command) {
	commitCmd := &cobra.Command{
		Use:   "commits",
		Short: "Track agent commits awaiting human verification",
	}

	commitCmd.AddCommand(newCommitRecordCmd())
	commitCmd.AddCommand(newCommitVerifyCmd())
	commitCmd.AddCommand(newCommitStatusCmd())

	root.AddCommand(commitCmd)
}

func newCommitRecordCmd() *cobra.Command {
	var (
		sha     string
		branch  string
		message string
		author  string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an agent commit on a feature branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if author == "" {
				author = engine.Config.AgentIdentity
			}

			err = engine.Commits.RecordCommit(core.CommitRecord{
				SHA:     sha,
				Branch:  branch,
				Message: message,
				Author:  author,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Recorded commit %s on %s.\n", shortSHA(sha), branch)
			return nil
		},
	}

	cmd.Flags().StringVar(&sha, "sha", "", "Commit SHA")
	cmd.Flags().StringVar(&branch, "branch", "", "Feature branch name")
	cmd.Flags().StringVar(&message, "message", "", "Commit message")
	cmd.Flags().StringVar(&author, "author", "", "Commit author (defaults to the agent identity)")
	cmd.MarkFlagRequired("sha")
	cmd.MarkFlagRequired("branch")
	return cmd
}

func newCommitVerifyCmd() *cobra.Command {
	var verifier string

	cmd := &cobra.Command{
		Use:   "verify <sha>",
		Short: "Mark a recorded commit as human-verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if verifier == "" {
				verifier = engine.Actor().Identity
			}

			ok, err := engine.Commits.VerifyCommit(args[0], verifier)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("commit %s is unknown or already verified", shortSHA(args[0]))
			}
			fmt.Printf("Commit %s verified by %s.\n", shortSHA(args[0]), verifier)
			return nil
		},
	}

	cmd.Flags().StringVar(&verifier, "as", "", "Verifier identity (defaults to the current user)")
	return cmd
}

func newCommitStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <branch>",
		Short: "Show a branch's commits and pull-request readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			commits, err := engine.Commits.BranchCommits(args[0])
			if err != nil {
				return err
			}
			ready, err := engine.Commits.ReadyForPullRequest(args[0])
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(struct {
					Branch     string              `json:"branch"`
					Commits    []core.CommitRecord `json:"commits"`
					ReadyForPR bool                `json:"ready_for_pr"`
				}{args[0], commits, ready})
			}

			if len(commits) == 0 {
				fmt.Printf("No recorded commits on %s.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SHA\tAUTHOR\tVERIFIED\tRECORDED\tMESSAGE")
			for _, c := range commits {
				verified := "no"
				if c.Verified {
					verified = "by " + c.VerifiedBy
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortSHA(c.SHA), c.Author, verified,
					c.RecordedAt.Format(time.RFC3339), c.Message)
			}
			w.Flush()

			if ready {
				fmt.Println("\nAll commits verified — branch is ready for a pull request.")
			} else {
				fmt.Println("\nBranch has unverified commits; pull request is blocked.")
			}
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
