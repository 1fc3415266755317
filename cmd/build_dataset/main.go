package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"nfc-rfml/config"
	"nfc-rfml/db"
	"nfc-rfml/models"
	"nfc-rfml/pipeline"
	"nfc-rfml/utils"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", utils.GetEnv("RFML_CONFIG", ""), "Experiment file (JSON, YAML or TOML)")
	persistFlag := flag.Bool("persist", false, "Store the split in the artifact store selected by DB_TYPE")
	jsonFlag := flag.Bool("json", false, "Print the summary as JSON")
	quietFlag := flag.Bool("quiet", false, "Do not print build progress")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var opts []pipeline.Option
	if !*quietFlag {
		opts = append(opts, pipeline.WithProgress(func(p models.BuildProgress) {
			log.Printf("[%s] %s\n", p.Stage, p.Message)
		}))
	}

	result, err := pipeline.Build(ctx, resolved, opts...)
	if err != nil {
		pipeline.LogError(ctx, "dataset build failed", err)
		os.Exit(1)
	}
	summary := pipeline.Summary(result)

	if *persistFlag {
		if result.Empty() {
			log.Println("Dataset is empty, nothing persisted")
		} else {
			store, err := db.NewArtifactStore()
			if err != nil {
				log.Fatalf("failed to open artifact store: %v", err)
			}
			id, err := store.SaveRun(ctx, pipeline.Manifest(result, db.NewRunID()), result.Split)
			store.Close()
			if err != nil {
				pipeline.LogError(ctx, "failed to persist run", err)
				os.Exit(1)
			}
			summary.RunID = id
		}
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("failed to encode summary: %v", err)
		}
		return
	}
	printSummary(summary)
}

func printSummary(s models.DatasetSummary) {
	fmt.Println("=" + strings.Repeat("=", 59))
	fmt.Println("DATASET")
	fmt.Println("=" + strings.Repeat("=", 59))
	fmt.Printf("%-16s %v\n", "Classes:", s.Classes)
	fmt.Printf("%-16s %v\n", "Labels:", s.ClassNames)
	fmt.Printf("%-16s %v\n", "Windows:", s.WindowCounts)
	fmt.Printf("%-16s %v\n", "Per label:", s.LabelCounts)
	fmt.Printf("%-16s %v (%d classes)\n", "Shape:", s.Shape, s.NumClasses)
	fmt.Printf("%-16s train=%d validation=%d test=%d\n", "Split:", s.Train, s.Validation, s.Test)
	fmt.Printf("%-16s %g\n", "Scale:", s.Scale)
	fmt.Printf("%-16s %.1fms\n", "Elapsed:", s.ElapsedMs)
	if s.RunID != "" {
		fmt.Printf("%-16s %s\n", "Run:", s.RunID)
	}
	for _, w := range s.Warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
}
