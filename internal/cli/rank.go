package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/normalize"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/settlement"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank providers for a GPU job",
	Long: `Poll every configured provider, normalize the quotes and print the best
matches together with the rejected providers and the trace hash.

The job can be given with flags or as a YAML file via --job.`,
	RunE: runRank,
}

func init() {
	rootCmd.AddCommand(rankCmd)
	addJobFlags(rankCmd)
	rankCmd.Flags().StringSliceP("providers", "p", nil, "Only consider these provider ids")
	rankCmd.Flags().IntP("top", "k", 0, "Number of recommendations (default from config)")
	rankCmd.Flags().Bool("json", false, "Print the full result as JSON")
	rankCmd.Flags().Bool("compare", false, "Also print eligible providers ordered by price alone")
	rankCmd.Flags().Bool("settle", false, "Publish a settlement handoff for the top recommendation")
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("job", "", "YAML job request file")
	cmd.Flags().IntP("gpus", "n", 1, "Number of GPUs")
	cmd.Flags().Float64P("hours", "H", 1, "Job duration in hours")
	cmd.Flags().StringP("gpu", "g", "", "Required GPU type (e.g., A100-80GB, H100)")
	cmd.Flags().StringSliceP("region", "r", nil, "Preferred regions, most preferred first")
	cmd.Flags().Float64("max-price", 0, "Maximum effective USD per A100-hour (0 = unlimited)")
	cmd.Flags().StringSlice("exclude", nil, "Excluded pricing models (fixed, spot, token)")
	cmd.Flags().Float64("min-reputation", 0, "Minimum provider reputation (0-100)")
	cmd.Flags().Bool("no-spot", false, "Disallow spot pricing")
	cmd.Flags().String("workload", "", "Workload class (training, inference)")
}

// jobFromFlags builds the job request from --job or the individual flags.
// Flags explicitly set on the command line override file values.
func jobFromFlags(cmd *cobra.Command) (model.JobRequest, error) {
	var job model.JobRequest
	if path, _ := cmd.Flags().GetString("job"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return job, fmt.Errorf("read job file: %w", err)
		}
		if err := yaml.Unmarshal(data, &job); err != nil {
			return job, fmt.Errorf("parse job file: %w", err)
		}
	} else {
		job.GPUCount, _ = cmd.Flags().GetInt("gpus")
		job.DurationHours, _ = cmd.Flags().GetFloat64("hours")
	}

	f := cmd.Flags()
	if f.Changed("gpus") {
		job.GPUCount, _ = f.GetInt("gpus")
	}
	if f.Changed("hours") {
		job.DurationHours, _ = f.GetFloat64("hours")
	}
	if f.Changed("gpu") {
		job.Constraints.RequiredGPUType, _ = f.GetString("gpu")
	}
	if f.Changed("region") {
		job.Constraints.PreferredRegions, _ = f.GetStringSlice("region")
	}
	if f.Changed("max-price") {
		job.Constraints.MaxPricePerHour, _ = f.GetFloat64("max-price")
	}
	if f.Changed("min-reputation") {
		job.Constraints.MinReputation, _ = f.GetFloat64("min-reputation")
	}
	if f.Changed("workload") {
		w, _ := f.GetString("workload")
		job.Workload = model.Workload(strings.ToLower(w))
	}
	if f.Changed("exclude") {
		names, _ := f.GetStringSlice("exclude")
		job.Constraints.ExcludedPricingModels = nil
		for _, n := range names {
			m, err := model.ParsePricingModel(n)
			if err != nil {
				return job, err
			}
			job.Constraints.ExcludedPricingModels = append(job.Constraints.ExcludedPricingModels, m)
		}
	}
	if noSpot, _ := f.GetBool("no-spot"); noSpot {
		allowed := false
		job.Constraints.SpotAllowed = &allowed
	}
	return job, nil
}

func runRank(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	job, err := jobFromFlags(cmd)
	if err != nil {
		return err
	}

	e, err := initEngine(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var opts []ranker.RankOption
	if ids, _ := cmd.Flags().GetStringSlice("providers"); len(ids) > 0 {
		opts = append(opts, ranker.OnlyProviders(ids...))
	}
	if k, _ := cmd.Flags().GetInt("top"); k > 0 {
		opts = append(opts, ranker.UseTopK(k))
	}

	res, rankErr := e.ranker.Rank(cmd.Context(), job, opts...)
	if rankErr != nil && !errors.Is(rankErr, ranker.ErrNoEligibleProviders) {
		return rankErr
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
		if cmp, _ := cmd.Flags().GetBool("compare"); cmp {
			printComparison(out, res.Comparison())
		}
	}
	if rankErr != nil {
		return rankErr
	}

	if settle, _ := cmd.Flags().GetBool("settle"); settle {
		pub, err := initPublisher(cfg, logger)
		if err != nil {
			return err
		}
		if pub == nil {
			return errors.New("settlement: no notifier configured")
		}
		h, err := settlement.FromResult(res, time.Now())
		if err != nil {
			return err
		}
		if err := pub.Publish(cmd.Context(), h); err != nil {
			return fmt.Errorf("publish handoff: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Handoff for %s sent to %s\n", h.ProviderID, strings.Join(pub.Notifiers(), ", "))
	}
	return nil
}

func printResult(out io.Writer, res *ranker.Result) {
	fmt.Fprintf(out, "Run %s: %s", res.RunID, res.State)
	if res.Partial {
		fmt.Fprint(out, " (partial)")
	}
	fmt.Fprintln(out)

	if len(res.Recommendations) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "RANK\tPROVIDER\tGPU\tREGION\t$/A100-HR\t$/GPU-HR\tLATENCY\tSCORE\tSAVINGS\n")
		for _, rec := range res.Recommendations {
			p := rec.Candidate.Price
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t$%.4f\t$%.4f\t%dms\t%.2f\t%.1f%%\n",
				rec.Rank, p.ProviderID, p.GPUType, p.Region,
				p.EffectiveUSDPerA100Hour, p.USDPerGPUHour,
				rec.Candidate.LatencyMs, rec.Candidate.TotalScore, rec.SavingsPercent,
			)
		}
		w.Flush()

		fmt.Fprintln(out)
		for _, rec := range res.Recommendations {
			for _, line := range rec.Tradeoffs {
				fmt.Fprintf(out, "  #%d %s: %s\n", rec.Rank, rec.Candidate.ProviderID(), line)
			}
			for _, warn := range rec.Candidate.Price.Warnings {
				fmt.Fprintf(out, "  #%d %s: warning: %s\n", rec.Rank, rec.Candidate.ProviderID(), warn)
			}
		}
	}

	if len(res.Rejected) > 0 {
		fmt.Fprintf(out, "\nRejected:\n")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  PROVIDER\tSTAGE\tCODE\tREASON\n")
		for _, r := range res.Rejected {
			code := r.Code
			if code == "" {
				code = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.ProviderID, r.Stage, code, r.Reason)
		}
		w.Flush()
	}

	if res.TraceHash != "" {
		fmt.Fprintf(out, "\nTrace: %s\n", res.TraceHash)
	}
}

func printComparison(out io.Writer, rows []normalize.PriceComparison) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(out, "\nBy price:\n")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  #\tPROVIDER\t$/A100-HR\tVS CHEAPEST\tVS PRICIEST\n")
	for _, c := range rows {
		fmt.Fprintf(w, "  %d\t%s\t$%.4f\t+%.2f%%\t-%.2f%%\n",
			c.Rank, c.Price.ProviderID, c.Price.EffectiveUSDPerA100Hour,
			c.SavingsPercent, c.SavingsVsPriciestPercent,
		)
	}
	w.Flush()
}
