package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"nfc-rfml/capture"
	"nfc-rfml/config"
	"nfc-rfml/utils"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", utils.GetEnv("RFML_CONFIG", ""), "Experiment file (JSON, YAML or TOML)")
	jsonFlag := flag.Bool("json", false, "Print statistics as JSON")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	groups, err := capture.Discover(resolved.DataPath, resolved.Classes, resolved.Naming)
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}

	// Classes are loaded one at a time to bound memory.
	ctx := context.Background()
	all := make([]capture.SequenceStats, 0, len(groups))
	for _, group := range groups {
		seq, err := group.Load(ctx)
		if err != nil {
			log.Fatalf("failed to read class %d: %v", group.Class, err)
		}
		st, err := capture.Stats(seq)
		if err != nil {
			log.Fatalf("failed to summarise class %d: %v", group.Class, err)
		}
		all = append(all, st)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			log.Fatalf("failed to encode statistics: %v", err)
		}
		return
	}

	fmt.Printf("Captures in %s (window size %d)\n", resolved.DataPath, resolved.Engine.WindowSize)
	fmt.Println(strings.Repeat("-", 96))
	fmt.Printf("%-6s %5s %10s %8s %10s %10s %10s %10s %10s\n",
		"Class", "Files", "Samples", "Strides", "Mean", "Median", "P99", "Max", "MAD")
	fmt.Println(strings.Repeat("-", 96))
	for _, st := range all {
		fmt.Printf("%-6d %5d %10d %8d %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			st.Class, st.Files, st.Samples, st.Samples/resolved.Engine.WindowSize,
			st.MeanMag, st.MedianMag, st.P99Mag, st.MaxMag, st.MagnitudeMAD)
	}
}
