package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/cli"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

var providersFlags struct {
	capability string
	output     string
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	Long: `List the providers of a configuration file with their capabilities and
routing weight inputs.

Examples:
  aimux providers
  aimux providers --capability vision
  aimux providers --output json`,
	RunE: listProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().StringVar(&providersFlags.capability, "capability", "", "only providers supporting this capability (thinking, vision, tools, streaming)")
	providersCmd.Flags().StringVarP(&providersFlags.output, "output", "o", "table", "output format: table, json, csv")
}

// providerRow is one line of the providers listing.
type providerRow struct {
	Name          string                 `json:"name"`
	Enabled       bool                   `json:"enabled"`
	BaseURL       string                 `json:"base_url"`
	Capabilities  providers.Capabilities `json:"capabilities"`
	Priority      float64                `json:"priority_score"`
	AvgResponseMs float64                `json:"avg_response_time_ms"`
	CostPerToken  float64                `json:"cost_per_output_token"`
	MaxConcurrent int                    `json:"max_concurrent_requests"`
	Bindings      []string               `json:"bindings,omitempty"`
}

type providerTable []providerRow

func (t providerTable) Headers() []string {
	return []string{"NAME", "ENABLED", "CAPABILITIES", "PRIORITY", "AVG_MS", "COST/TOKEN", "BINDINGS", "BASE_URL"}
}

func (t providerTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, p := range t {
		bindings := strings.Join(p.Bindings, ",")
		if bindings == "" {
			bindings = "-"
		}
		rows[i] = []string{
			p.Name,
			strconv.FormatBool(p.Enabled),
			capabilityList(p.Capabilities),
			strconv.FormatFloat(p.Priority, 'f', -1, 64),
			strconv.FormatFloat(p.AvgResponseMs, 'f', -1, 64),
			strconv.FormatFloat(p.CostPerToken, 'g', -1, 64),
			bindings,
			p.BaseURL,
		}
	}
	return rows
}

func capabilityList(c providers.Capabilities) string {
	var names []string
	for _, capability := range []routing.Capability{
		routing.CapabilityThinking,
		routing.CapabilityVision,
		routing.CapabilityTools,
		routing.CapabilityStreaming,
	} {
		if c.Supports(capability) {
			names = append(names, string(capability))
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// buildProviderTable lists the providers of cfg, optionally filtered by
// capability, sorted by name.
func buildProviderTable(cfg *config.Config, capability routing.Capability) providerTable {
	bound := map[string][]string{}
	for _, b := range []struct{ kind, name string }{
		{"default", cfg.DefaultProvider},
		{"thinking", cfg.ThinkingProvider},
		{"vision", cfg.VisionProvider},
		{"tools", cfg.ToolsProvider},
	} {
		if b.name != "" {
			bound[b.name] = append(bound[b.name], b.kind)
		}
	}

	table := providerTable{}
	for name, pc := range cfg.Providers {
		caps := providers.CapabilitiesFromFlags(pc.Flags())
		if capability != "" && !caps.Supports(capability) {
			continue
		}
		table = append(table, providerRow{
			Name:          name,
			Enabled:       pc.IsEnabled(),
			BaseURL:       pc.BaseURL,
			Capabilities:  caps,
			Priority:      pc.PriorityScore,
			AvgResponseMs: pc.AvgResponseTimeMs,
			CostPerToken:  pc.CostPerOutputToken,
			MaxConcurrent: pc.MaxConcurrentRequests,
			Bindings:      bound[name],
		})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Name < table[j].Name })
	return table
}

func listProviders(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(providersFlags.output)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	table := buildProviderTable(cfg, routing.Capability(providersFlags.capability))
	if len(table) == 0 && format == cli.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No providers found.")
		return nil
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}
