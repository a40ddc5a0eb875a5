package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect stored reasoning traces",
}

var traceShowCmd = &cobra.Command{
	Use:   "show <hash>",
	Short: "Print a reasoning trace by its content hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceShow,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past rankings",
	Long:  `List stored reasoning traces, newest first, optionally filtered by top provider, state and age.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.AddCommand(traceShowCmd)
	traceShowCmd.Flags().Bool("raw", false, "Print the canonical payload exactly as stored")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringP("provider", "p", "", "Filter by top provider")
	historyCmd.Flags().String("state", "", "Filter by state (ranked, failed)")
	historyCmd.Flags().Duration("since", 0, "Only show traces newer than this (e.g., 24h)")
	historyCmd.Flags().IntP("limit", "l", storage.DefaultListLimit, "Maximum number of traces")
}

func openStore(cmd *cobra.Command) (storage.TraceStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	if store == nil {
		return nil, errors.New("trace storage is disabled (storage.driver: none)")
	}
	return store, nil
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	// Get verifies the payload against its hash.
	payload, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		fmt.Fprintln(out, string(payload))
		return nil
	}

	var pretty any
	if err := json.Unmarshal(payload, &pretty); err != nil {
		return fmt.Errorf("decode trace: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, _ := cmd.Flags().GetString("provider")
	state, _ := cmd.Flags().GetString("state")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := storage.ListFilter{
		ProviderID: provider,
		State:      model.RankState(state),
		Limit:      limit,
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	records, err := store.List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list traces: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No rankings recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "CREATED\tRUN\tSTATE\tTOP PROVIDER\tSIZE\tHASH\n")
	for _, r := range records {
		top := r.ProviderID
		if top == "" {
			top = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.RunID, r.State, top, r.Size, r.Hash,
		)
	}
	w.Flush()

	return nil
}
