package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/scorer"
)

var predictCmd = &cobra.Command{
	Use:   "predict <property value>",
	Short: "Predict ontology mappings for a property value",
	Long:  "Searches the stored annotations for the value, scores every candidate, and prints the mappings that survive the cutoff with their shared confidence.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("predict"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		value := strings.Join(args, " ")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		found, err := st.Search(ctx, value, limit)
		if err != nil {
			return eris.Wrap(err, "predict: search")
		}

		calc := scorer.NewCalculator(nil, cfg.Scoring)
		pred := calc.Predict(scorer.FromAnnotations(found), value, typ)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pred)
		}
		formatPrediction(os.Stdout, pred)
		return nil
	},
}

// formatPrediction writes one row per semantic tag of each result.
func formatPrediction(out io.Writer, pred scorer.Prediction) {
	fmt.Fprintf(out, "Query:      %s\n", pred.Query)
	if pred.Type != "" {
		fmt.Fprintf(out, "Type:       %s\n", pred.Type)
	}
	fmt.Fprintf(out, "Confidence: %s\n", pred.Confidence)
	if len(pred.Results) == 0 {
		fmt.Fprintln(out, "No mappings found.")
		return
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTERM\tPROPERTY\tSOURCE")
	for _, r := range pred.Results {
		a := r.Candidate.Annotation
		prop := r.Candidate.MatchedText
		if a != nil && a.Property.IsTyped() {
			prop = a.Property.Type + ": " + prop
		}
		tags := []string{""}
		if a != nil && len(a.SemanticTags) > 0 {
			tags = a.SemanticTags
		}
		for _, tag := range tags {
			fmt.Fprintf(w, "%.1f\t%s\t%s\t%s\n", r.Score, model.ShortForm(tag), prop, r.Candidate.Origin)
		}
	}
	w.Flush() //nolint:errcheck
}

func init() {
	predictCmd.Flags().String("type", "", "property type the value belongs to")
	predictCmd.Flags().Int("limit", 100, "maximum candidates to score")
	predictCmd.Flags().Bool("json", false, "print the prediction as JSON")
	rootCmd.AddCommand(predictCmd)
}
