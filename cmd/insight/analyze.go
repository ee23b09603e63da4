package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/defiinsight/insight/internal/agents"
	"github.com/defiinsight/insight/internal/cache"
	"github.com/defiinsight/insight/internal/config"
)

const analyzeBudget = 60 * time.Second

// runAnalyze executes the selected agents against one token and prints the
// report. Nothing is persisted; no database connection is opened.
func runAnalyze(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel)

	provCfg, err := config.LoadProvidersConfigOrDefault(flagOrDefault(cmd.Flags(), "config", settings.ProvidersConfig))
	if err != nil {
		return err
	}

	tokenRef, _ := cmd.Flags().GetString("token")
	chainName, _ := cmd.Flags().GetString("chain")
	rawJSON, _ := cmd.Flags().GetBool("json")

	var names []string
	if list, _ := cmd.Flags().GetString("agents"); list != "" {
		for _, n := range strings.Split(list, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}

	store := cache.NewAuto(settings)
	defer store.Close()

	stack := buildProviderStack(settings, provCfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, analyzeBudget)
	defer cancel()

	report, err := stack.manager.Run(ctx, agents.Request{Token: tokenRef, Chain: chainName}, names...)
	if err != nil {
		return err
	}

	if rawJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

func printReport(report *agents.Report) {
	fmt.Printf("Analysis of %s (%.2fs)\n\n", report.Token, float64(report.DurationMS)/1000)

	agentNames := make([]string, 0, len(report.Results))
	for name := range report.Results {
		agentNames = append(agentNames, name)
	}
	sort.Strings(agentNames)

	for _, name := range agentNames {
		res := report.Results[name]
		fmt.Printf("== %s (%dms)\n", name, res.DurationMS)
		body, err := json.MarshalIndent(res.Data, "", "  ")
		if err != nil {
			fmt.Printf("  <unprintable: %v>\n\n", err)
			continue
		}
		fmt.Printf("%s\n\n", body)
	}

	if len(report.Errors) > 0 {
		fmt.Println("Failed agents:")
		failed := make([]string, 0, len(report.Errors))
		for name := range report.Errors {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		for _, name := range failed {
			fmt.Printf("  %s: %s\n", name, report.Errors[name])
		}
	}
}
