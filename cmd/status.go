package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EBISPOT/zooma-sub003/internal/monitoring"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent load outcomes and loading health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		receipts, err := st.ListReceipts(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status: list receipts")
		}

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatSnapshot(os.Stdout, snap)
		fmt.Fprintln(os.Stdout)
		if len(receipts) == 0 {
			fmt.Fprintln(os.Stderr, "No receipts recorded.")
			return nil
		}
		formatReceipts(os.Stdout, receipts)
		return nil
	},
}

func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	fmt.Fprintf(out, "Annotations:   %d\n", snap.Annotations)
	fmt.Fprintf(out, "Loads (%dh):    %d total, %d ok, %d failed (%.1f%%)\n",
		snap.LookbackHours, snap.LoadsTotal, snap.LoadsSuccessful, snap.LoadsFailed, snap.LoadsFailRate*100)
	fmt.Fprintf(out, "Batches (%dh):  %d total, %d failed\n", snap.LookbackHours, snap.BatchesTotal, snap.BatchesFailed)

	if len(snap.FailedDatasources) > 0 {
		names := make([]string, 0, len(snap.FailedDatasources))
		for name := range snap.FailedDatasources {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "Failing:")
		for _, name := range names {
			fmt.Fprintf(out, "  %s (%d)\n", name, snap.FailedDatasources[name])
		}
	}
}

func formatReceipts(out io.Writer, statuses []receipt.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATASOURCE\tTYPE\tSTATUS\tSUBMITTED\tDURATION\tERROR")
	for _, st := range statuses {
		state := "running"
		dur := "-"
		if st.Complete {
			state = "ok"
			if !st.Successful {
				state = "failed"
			}
			dur = st.Completed.Sub(st.Submitted).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.ID,
			st.Datasource,
			st.LoadType,
			state,
			st.Submitted.Format(time.DateTime),
			dur,
			truncate(st.Error, 60),
		)
	}
	w.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of receipts to show")
	rootCmd.AddCommand(statusCmd)
}
