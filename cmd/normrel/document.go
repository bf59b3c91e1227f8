package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel"
	"github.com/mkallweit/normrel/model"
	"github.com/spf13/cobra"
)

var (
	uploadTitle   string
	uploadType    string
	uploadSource  string
	uploadTimeout time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a document and run it through the pipeline",
	Long: `Uploads a document file, runs extraction, chunking, embedding and
relationship discovery, and waits until the document is ready or failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var statusCmd = &cobra.Command{
	Use:   "status [document-id]",
	Short: "Show a document's pipeline status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document with its chunks and relationships",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadTitle, "title", "t", "", "document title, defaults to the file name")
	uploadCmd.Flags().StringVar(&uploadType, "type", string(model.DocumentTypeNorm), "document type: norm or guideline")
	uploadCmd.Flags().StringVar(&uploadSource, "source", "", "source reference, defaults to the file name")
	uploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 5*time.Minute, "how long to wait for the pipeline")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	title := uploadTitle
	if title == "" {
		title = filepath.Base(path)
	}
	source := uploadSource
	if source == "" {
		source = filepath.Base(path)
	}

	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		return err
	}

	doc, err := n.UploadDocument(ctx, title, source, model.DocumentType(uploadType), data, nil)
	if err != nil {
		return err
	}
	cmd.Printf("Uploaded %s as %s\n", path, doc.RID)

	final, err := waitForPipeline(ctx, n, doc.RID, uploadTimeout)
	if err != nil {
		return err
	}
	if final.Status == model.StatusError {
		return fmt.Errorf("processing failed: %s", final.ErrorMessage)
	}

	cmd.Printf("Document %s is %s\n", final.RID, final.Status)
	return nil
}

// waitForPipeline polls until the document reaches ready or error
func waitForPipeline(ctx context.Context, n *normrel.Normrel, rid uuid.UUID, timeout time.Duration) (*model.Document, error) {
	deadline := time.Now().Add(timeout)
	for {
		doc, err := n.GetDocument(ctx, rid)
		if err != nil {
			return nil, err
		}
		if doc.Status == model.StatusReady || doc.Status == model.StatusError {
			return doc, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("document %s still %s after %s", rid, doc.Status, timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	rid, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	doc, err := n.GetDocument(context.Background(), rid)
	if err != nil {
		return err
	}

	cmd.Printf("Title:  %s\n", doc.Title)
	cmd.Printf("Type:   %s\n", doc.Type)
	cmd.Printf("Status: %s (%d%%)\n", doc.Status, doc.Status.Progress())
	if doc.ErrorMessage != "" {
		cmd.Printf("Error:  %s\n", doc.ErrorMessage)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	rid, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	n, err := openNormrel()
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.DeleteDocument(context.Background(), rid); err != nil {
		return err
	}
	cmd.Printf("Deleted %s\n", rid)
	return nil
}
