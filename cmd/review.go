package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/specflow/internal/models"
	"github.com/joescharf/specflow/internal/review"
)

var (
	reviewType      string
	reviewThreshold float64
	reviewReference string
	reviewSecondary bool
	reviewJSON      bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Score a spec, plan or tasks document",
	Long: `Score a markdown document against the checklist for its type and print
the verdict. Uses the configured review.mode, so 'llm' calls the model.

Exits non-zero when the document is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context(), args[0], cmd.Flags().Changed("threshold"))
	},
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewType, "type", "t", "spec", "Document type: spec, plan, tasks")
	reviewCmd.Flags().Float64Var(&reviewThreshold, "threshold", review.DefaultThreshold, "Approval threshold (default review.threshold)")
	reviewCmd.Flags().StringVar(&reviewReference, "reference", "", "File with upstream context (spec for a plan, plan for tasks)")
	reviewCmd.Flags().BoolVar(&reviewSecondary, "secondary", false, "Also run the advisory compliance rules")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(reviewCmd)
}

// errRejected signals a rejected document without printing a second error line.
type errRejected struct{ score float64 }

func (e errRejected) Error() string {
	return fmt.Sprintf("document rejected (score %.2f)", e.score)
}

func reviewRun(ctx context.Context, path string, thresholdSet bool) error {
	ctx = ctxOrBackground(ctx)
	docType, ok := models.ParseDocumentType(reviewType)
	if !ok {
		return fmt.Errorf("unknown document type %q (want spec, plan or tasks)", reviewType)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var reference string
	if reviewReference != "" {
		data, err := os.ReadFile(reviewReference)
		if err != nil {
			return err
		}
		reference = string(data)
	}

	threshold := viper.GetFloat64("review.threshold")
	if thresholdSet {
		threshold = reviewThreshold
	}
	reviewer, err := newReviewer(newLogger(ui.ErrOut), threshold)
	if err != nil {
		return err
	}
	result := reviewer.Review(ctx, string(content), docType, reference)

	var advisory *models.ReviewResult
	if reviewSecondary {
		secondary, err := review.NewSecondaryReviewer(viper.GetString("review.secondary_rules"))
		if err != nil {
			return err
		}
		advisory = secondary.Review(ctx, string(content), docType, reference)
	}

	if reviewJSON {
		out := map[string]any{"type": docType, "status": result.Status(), "result": result}
		if advisory != nil {
			out["secondary"] = advisory
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		ui.Review(result, threshold)
		if advisory != nil {
			fmt.Fprintln(ui.Out)
			ui.Info("Advisory compliance review")
			ui.Review(advisory, threshold)
		}
	}

	if !result.Approved {
		return errRejected{score: result.Score}
	}
	return nil
}
