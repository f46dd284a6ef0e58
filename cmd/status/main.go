package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"ox-market-maker/internal/config"
	"ox-market-maker/internal/handoff"
	"ox-market-maker/internal/position"
	"ox-market-maker/internal/strategy"
)

const defaultHandoffPath = "market_data_dynamic.json"

func main() {
	configPath := flag.String("config", "", "optional config path for thresholds and hand-off location")
	path := flag.String("file", "", "hand-off file to read (overrides config)")
	watch := flag.Bool("watch", false, "keep polling the file and print on every change")
	interval := flag.Duration("interval", 2*time.Second, "poll interval in watch mode")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	file := *path
	if file == "" {
		file = cfg.Handoff.Path
	}
	if file == "" {
		file = defaultHandoffPath
	}
	format := cfg.Handoff.Format
	if *path != "" || cfg.Handoff.Path == "" {
		format = config.FormatFromPath(file)
	}

	poller := handoff.NewPoller(file, format)
	scfg := strategy.NewConfig(cfg)
	if !*watch {
		exp, _, err := poller.Poll()
		if err != nil {
			fatal(err)
		}
		printStatus(scfg, exp, time.Now())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		exp, changed, err := poller.Poll()
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "poll: %v\n", err)
		case changed:
			printStatus(scfg, exp, time.Now())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printStatus(cfg strategy.Config, exp handoff.Export, now time.Time) {
	fmt.Printf("\nMarket maker status - %s (export %s)\n", now.Format("15:04:05"), exp.LastUpdated.Format(time.RFC3339))
	fmt.Printf("Target order size: $%g\n", cfg.Quoting.OrderNotionalUSD)
	fmt.Printf("Min spread: %.1f%%\n", cfg.Quoting.MinSpread*100)
	fmt.Printf("Min distance from index: %.1f%%\n", cfg.Quoting.MinDistanceFromIndex*100)
	fmt.Printf("Trading %d of %d tracked instruments\n", len(exp.Selected), exp.TotalTracked)

	pinned := make(map[string]struct{}, len(exp.Pinned))
	for _, inst := range exp.Pinned {
		pinned[inst] = struct{}{}
	}
	snaps := make(map[string]int)
	all := exp.Snapshots()
	for i, snap := range all {
		snaps[snap.Instrument] = i
	}
	selected := append([]string(nil), exp.Selected...)
	sort.Strings(selected)
	for _, inst := range selected {
		i, ok := snaps[inst]
		if !ok {
			continue
		}
		snap := all[i]
		if snap.BestAsk <= 0 || snap.BestBid <= 0 {
			continue
		}
		// The export only flags instruments holding a position; any nonzero
		// size classifies the same way.
		pos := position.Position{Instrument: inst, Known: true}
		if _, held := pinned[inst]; held {
			pos.Size, pos.LastKnownSize = 1, 1
		}
		status := strategy.Classify(cfg, strategy.Input{Instrument: inst, Snapshot: snap, Position: pos, Now: now})
		line := fmt.Sprintf("  %s: Spread %s%%", inst, strategy.QuotingSpread(snap.BestAsk, snap.BestBid).Shift(2).StringFixed(2))
		if pos.Size != 0 {
			line += " | Position held"
		}
		fmt.Printf("%s | %s\n", line, status)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
