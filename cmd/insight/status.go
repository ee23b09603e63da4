package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// runStatus fetches /api/status from a running server and prints it.
func runStatus(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("url")
	rawJSON, _ := cmd.Flags().GetBool("json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(base, "/") + "/api/status")
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response body: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("status endpoint reported failure: %s", envelope.Error)
	}

	if rawJSON {
		var indented json.RawMessage = envelope.Data
		out, err := json.MarshalIndent(indented, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	}

	var status struct {
		Service   string `json:"service"`
		Version   string `json:"version"`
		Env       string `json:"env"`
		Uptime    string `json:"uptime"`
		Agents    []string `json:"agents"`
		Providers map[string]struct {
			State     string  `json:"state"`
			Requests  uint32  `json:"requests"`
			Failures  uint32  `json:"total_failures"`
			ErrorRate float64 `json:"error_rate"`
		} `json:"providers"`
		Cache *struct {
			Backend string  `json:"backend"`
			Hits    int64   `json:"total_hits"`
			Misses  int64   `json:"total_misses"`
			HitRate float64 `json:"hit_rate"`
		} `json:"cache"`
	}
	if err := json.Unmarshal(envelope.Data, &status); err != nil {
		return fmt.Errorf("unexpected status payload: %w", err)
	}

	fmt.Printf("%s %s (%s), up %s\n", status.Service, status.Version, status.Env, status.Uptime)
	if len(status.Agents) > 0 {
		fmt.Printf("agents: %s\n", strings.Join(status.Agents, ", "))
	}

	if len(status.Providers) > 0 {
		fmt.Println("\nproviders:")
		names := make([]string, 0, len(status.Providers))
		for name := range status.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := status.Providers[name]
			fmt.Printf("  %-14s %-9s requests=%d failures=%d error_rate=%.1f%%\n",
				name, p.State, p.Requests, p.Failures, p.ErrorRate)
		}
	}

	if status.Cache != nil {
		fmt.Printf("\ncache: %s hits=%d misses=%d hit_rate=%.1f%%\n",
			status.Cache.Backend, status.Cache.Hits, status.Cache.Misses, status.Cache.HitRate*100)
	}
	return nil
}
