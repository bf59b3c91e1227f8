package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
	"github.com/spf13/cobra"
)

var (
	pendingLimit int
	reviewBy     string
	reviewNotes  string
)

var compareThreshold float64

var compareCmd = &cobra.Command{
	Use:   "compare [document-id...]",
	Short: "Re-run relationship discovery for ready documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompare,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List relationships awaiting review",
	RunE:  runPending,
}

var approveCmd = &cobra.Command{
	Use:   "approve [relationship-id]",
	Short: "Approve a pending relationship",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject [relationship-id]",
	Short: "Reject a pending relationship",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	compareCmd.Flags().Float64Var(&compareThreshold, "threshold", 0, "similarity threshold override, 0 uses the configured one")
	pendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 20, "maximum number of relationships to list")
	approveCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer identity (required)")
	approveCmd.Flags().StringVar(&reviewNotes, "notes", "", "review notes")
	rejectCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer identity (required)")
	rejectCmd.Flags().StringVar(&reviewNotes, "notes", "", "review notes")

	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	rids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		rid, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid document id %q: %w", arg, err)
		}
		rids = append(rids, rid)
	}

	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	created, err := n.Compare(context.Background(), rids, compareThreshold)
	if err != nil {
		return err
	}

	if len(created) == 0 {
		cmd.Println("No new relationships found")
		return nil
	}
	for _, rel := range created {
		cmd.Printf("%s  %s -> %s  %s (%.2f)\n",
			rel.RID, rel.SourceDocumentRID, rel.TargetDocumentRID, rel.Type, rel.Confidence)
	}
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	pending, err := n.Review.Pending(context.Background(), pendingLimit)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		cmd.Println("Nothing pending review")
		return nil
	}
	for _, rel := range pending {
		cmd.Printf("%s  %-10s  %.2f  %s\n", rel.RID, rel.Type, rel.Confidence, rel.Summary)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	return decide(cmd, args[0], model.ValidationApproved)
}

func runReject(cmd *cobra.Command, args []string) error {
	return decide(cmd, args[0], model.ValidationRejected)
}

func decide(cmd *cobra.Command, id string, decision model.ValidationStatus) error {
	rid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid relationship id: %w", err)
	}
	if reviewBy == "" {
		return fmt.Errorf("--by is required")
	}

	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := context.Background()
	var rel *model.Relationship
	if decision == model.ValidationApproved {
		rel, err = n.Review.Approve(ctx, rid, reviewBy, reviewNotes)
	} else {
		rel, err = n.Review.Reject(ctx, rid, reviewBy, reviewNotes)
	}
	if err != nil {
		return err
	}

	cmd.Printf("Relationship %s is now %s\n", rel.RID, rel.ValidationStatus)
	return nil
}
