package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
)

const normContent = `# Information Security Norm

## Access Control

Access to production systems requires multi-factor authentication.
Privileged accounts must be reviewed quarterly and deactivated when
the holder changes role.

## Encryption

Data classified as confidential must be encrypted at rest using
industry standard algorithms. Transport encryption is mandatory for
all external connections.`

const guidelineContent = `# Security Implementation Guideline

## Access Control

Access to production systems requires multi-factor authentication.
Privileged accounts must be reviewed quarterly and deactivated when
the holder changes role.

## Practical Steps

Teams configure single sign-on through the central identity provider
and enroll hardware tokens during onboarding.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	n, err := normrel.NewNormrel(dbConfig, "normrel-data", nil)
	if err != nil {
		log.Fatalf("Failed to create normrel: %v", err)
	}
	defer n.Close()

	ctx := context.Background()

	// Start the pipeline workers with the default embedder
	// (downloads all-MiniLM-L6-v2 on first run)
	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	// Follow progress events
	events, cancelEvents := n.Subscribe()
	defer cancelEvents()
	go func() {
		for event := range events {
			fmt.Printf("  [%3d%%] %s %s %s\n", event.Progress, event.DocumentRID, event.Status, event.Message)
		}
	}()

	fmt.Println("Uploading norm...")
	norm, err := n.UploadDocument(ctx, "Information Security Norm", "norm.md",
		model.DocumentTypeNorm, []byte(normContent), model.Metadata{"effective_date": "2023-06-01"})
	if err != nil {
		log.Fatalf("Failed to upload norm: %v", err)
	}
	waitUntilReady(ctx, n, norm.RID)

	fmt.Println("Uploading guideline...")
	guideline, err := n.UploadDocument(ctx, "Security Implementation Guideline", "guideline.md",
		model.DocumentTypeGuideline, []byte(guidelineContent), nil)
	if err != nil {
		log.Fatalf("Failed to upload guideline: %v", err)
	}
	waitUntilReady(ctx, n, guideline.RID)

	// Discovery runs automatically when a document becomes ready;
	// give the discover task a moment to finish
	time.Sleep(2 * time.Second)

	pending, err := n.Review.Pending(ctx, 10)
	if err != nil {
		log.Fatalf("Failed to list pending relationships: %v", err)
	}

	fmt.Printf("\nDiscovered %d relationship(s):\n", len(pending))
	for _, rel := range pending {
		fmt.Printf("  %s -> %s: %s (confidence %.2f)\n",
			rel.SourceDocumentRID, rel.TargetDocumentRID, rel.Type, rel.Confidence)
		fmt.Printf("    %s\n", rel.Summary)
	}

	// Approve the first candidate
	if len(pending) > 0 {
		approved, err := n.Review.Approve(ctx, pending[0].RID, "example@example.com", "looks right")
		if err != nil {
			log.Fatalf("Failed to approve relationship: %v", err)
		}
		fmt.Printf("\nApproved relationship %s\n", approved.RID)
	}
}

func waitUntilReady(ctx context.Context, n *normrel.Normrel, rid uuid.UUID) {
	for {
		doc, err := n.GetDocument(ctx, rid)
		if err != nil {
			log.Fatalf("Failed to get document: %v", err)
		}
		switch doc.Status {
		case model.StatusReady:
			return
		case model.StatusError:
			log.Fatalf("Document %s failed: %s", rid, doc.ErrorMessage)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
