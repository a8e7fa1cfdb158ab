// Package main: the pools command inspects sandbox pools on a running daemon.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/webtech-network/autograder-sub001/internal/config"
)

var poolsAddr string

// poolsCmd shows sandbox pool status
var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Show sandbox pool status of a running daemon",
	Long: `Queries the daemon's health endpoint and prints per-language pool
occupancy. Without a running daemon, prints the configured pools instead.`,
	RunE: runPools,
}

func init() {
	poolsCmd.Flags().StringVar(&poolsAddr, "addr", "", "Daemon address (default: from config)")
}

type healthResponse struct {
	Status string `json:"status"`
	Pools  []struct {
		Language string `json:"language"`
		Size     int    `json:"size"`
		Idle     int    `json:"idle"`
		InUse    int    `json:"in_use"`
	} `json:"pools"`
}

func runPools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := poolsAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		// No daemon: show what serve would create.
		fmt.Println("Daemon not reachable; configured pools:")
		printConfiguredPools(cfg)
		return nil
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}

	fmt.Printf("Daemon at %s: %s\n", addr, health.Status)
	fmt.Println(strings.Repeat("─", 50))
	for _, p := range health.Pools {
		fmt.Printf("  %-12s size=%d idle=%d in_use=%d\n", p.Language, p.Size, p.Idle, p.InUse)
	}
	fmt.Println(strings.Repeat("─", 50))
	return nil
}

func printConfiguredPools(cfg *config.Config) {
	langs := make([]string, 0, len(cfg.Sandbox.Languages))
	for lang := range cfg.Sandbox.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		pool := cfg.Sandbox.Languages[lang]
		fmt.Printf("  %-12s size=%d image=%s\n", lang, pool.PoolSize, pool.Image)
	}
	fmt.Printf("Effective worker count: %d\n", cfg.Workers())
}
