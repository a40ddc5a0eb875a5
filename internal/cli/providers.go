package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured GPU providers",
}

var providersGPUsCmd = &cobra.Command{
	Use:   "gpus",
	Short: "Show A100-equivalence ratios and which providers offer each GPU",
	RunE:  runProvidersGPUs,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all providers and their GPU offers",
	RunE:  runProvidersList,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersGPUsCmd)
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := initRegistry(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	allProviders := registry.All()
	if len(allProviders) == 0 {
		fmt.Fprintln(out, "No providers configured. Check providers directory in config.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tREPUTATION\tPRICING\tGPUS\tREGIONS\n")

	for _, p := range allProviders {
		info := p.Info()
		pricing := make([]string, len(info.PricingModels))
		for i, m := range info.PricingModels {
			pricing[i] = string(m)
			if m == model.PricingToken && info.TokenSymbol != "" {
				pricing[i] += "(" + info.TokenSymbol + ")"
			}
		}
		fmt.Fprintf(w, "%s\t%.0f\t%s\t%s\t%s\n",
			info.ID, info.ReputationScore,
			strings.Join(pricing, ","),
			strings.Join(info.GPUTypes, ","),
			strings.Join(info.Regions, ","),
		)
	}
	w.Flush()

	return nil
}

func runProvidersGPUs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := initRegistry(cfg)
	if err != nil {
		return err
	}

	printGPUTable(cmd.OutOrStdout(), registry)
	return nil
}

func printGPUTable(out io.Writer, registry *providers.Registry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GPU\tA100 RATIO\tPROVIDERS\n")
	for _, g := range gpu.Known() {
		ratio, _ := gpu.Ratio(g)
		var ids []string
		for _, a := range registry.FindByGPU(g) {
			ids = append(ids, a.ID())
		}
		offered := "-"
		if len(ids) > 0 {
			offered = strings.Join(ids, ",")
		}
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", g, ratio, offered)
	}
	w.Flush()
}
