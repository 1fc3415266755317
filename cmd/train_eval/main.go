package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nfc-rfml/config"
	"nfc-rfml/dataset"
	"nfc-rfml/db"
	"nfc-rfml/evaluation"
	"nfc-rfml/knn"
	"nfc-rfml/pipeline"
	"nfc-rfml/utils"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", utils.GetEnv("RFML_CONFIG", ""), "Experiment file used when no run is given")
	runFlag := flag.String("run", "", "Evaluate a persisted run instead of building one")
	modelFlag := flag.String("model", "knn", "Model to train: knn or centroid")
	kFlag := flag.Int("k", utils.GetEnvInt("RFML_KNN_K", knn.DefaultK), "Number of neighbours")
	candidatesFlag := flag.String("candidates", "", "Comma separated k values to select from on the validation subset")
	standardizeFlag := flag.Bool("standardize", true, "Standardise features with training statistics")
	reportFlag := flag.String("report", "", "Write the test report as JSON to this path")
	flag.Parse()

	candidates, err := parseCandidates(*candidatesFlag)
	if err != nil {
		log.Fatalf("invalid -candidates: %v", err)
	}

	ctx := context.Background()
	split, names, err := loadSplit(ctx, *runFlag, *configFlag)
	if err != nil {
		pipeline.LogError(ctx, "failed to obtain dataset", err)
		os.Exit(1)
	}
	train, validation, test := split.Sizes()
	if train == 0 {
		log.Fatalf("training subset is empty")
	}
	fmt.Printf("Dataset: train=%d validation=%d test=%d, %d classes, shape %v\n\n",
		train, validation, test, split.NumClasses, split.Shape)

	started := time.Now()
	trainer, err := newTrainer(*modelFlag, *kFlag, candidates, *standardizeFlag, split.NumClasses)
	if err != nil {
		log.Fatalf("invalid -model: %v", err)
	}
	classifier, err := trainer.Train(ctx, split.Train, split.Validation)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	switch m := classifier.(type) {
	case *knn.Classifier:
		stats := m.Stats()
		fmt.Printf("Trained k-NN: %d prototypes, k=%d, %d dimensions, standardized=%v (%.2fms)\n",
			stats.PrototypeCount, stats.K, stats.Dimensions, stats.Standardized, time.Since(started).Seconds()*1000)
	case *knn.CentroidClassifier:
		fmt.Printf("Trained nearest centroid: %d templates (%.2fms)\n", m.TemplateCount(), time.Since(started).Seconds()*1000)
	}

	if validation > 0 {
		report, err := evaluation.Evaluate(classifier, split.Validation, split.NumClasses)
		if err != nil {
			log.Fatalf("validation failed: %v", err)
		}
		fmt.Printf("Validation accuracy: %.2f%% (%d/%d)\n", report.Accuracy*100, report.Correct, report.Samples)
	}

	if test == 0 {
		log.Println("Test subset is empty, nothing to report")
		return
	}
	report, err := evaluation.Evaluate(classifier, split.Test, split.NumClasses)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}
	report.SetClassNames(names)

	printEvaluationReport(report)
	printVerdict(report)

	if *reportFlag != "" {
		if err := writeReport(*reportFlag, report); err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
		log.Printf("Report saved to %s\n", *reportFlag)
	}
}

func newTrainer(name string, k int, candidates []int, standardize bool, numClasses int) (evaluation.Trainer, error) {
	switch strings.ToLower(name) {
	case "knn", "":
		return knn.Trainer{K: k, Candidates: candidates, Standardize: standardize, NumClasses: numClasses}, nil
	case "centroid":
		return knn.CentroidTrainer{NumClasses: numClasses}, nil
	default:
		return nil, fmt.Errorf("unknown model %q", name)
	}
}

// loadSplit reads a persisted run, or builds a fresh split from the
// configuration when runID is empty.
func loadSplit(ctx context.Context, runID, configPath string) (*dataset.Split, []string, error) {
	if runID != "" {
		store, err := db.NewArtifactStore()
		if err != nil {
			return nil, nil, err
		}
		defer store.Close()
		manifest, split, err := store.LoadRun(ctx, runID)
		if err != nil {
			return nil, nil, err
		}
		return split, manifest.ClassNames, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, nil, err
	}
	result, err := pipeline.Build(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range result.Warnings {
		log.Printf("WARNING: %v\n", w)
	}
	return result.Split, result.Dataset.ClassNames, nil
}

func parseCandidates(value string) ([]int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		k, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if k <= 0 {
			return nil, fmt.Errorf("k must be positive, got %d", k)
		}
		out = append(out, k)
	}
	return out, nil
}

func writeReport(path string, report *evaluation.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func className(report *evaluation.Report, label int) string {
	if label >= 0 && label < len(report.Classes) && report.Classes[label].ClassName != "" {
		return report.Classes[label].ClassName
	}
	return strconv.Itoa(label)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func printEvaluationReport(report *evaluation.Report) {
	fmt.Println()
	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Println("TEST RESULTS")
	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Println()

	fmt.Printf("Overall Accuracy: %.2f%% (%d/%d correct)\n", report.Accuracy*100, report.Correct, report.Samples)
	fmt.Printf("Macro F1: %.3f, Weighted F1: %.3f\n", report.MacroF1, report.WeightedF1)
	fmt.Printf("Average Confidence: %.2f%%\n", report.AvgConfidence*100)
	fmt.Printf("Processing Time: %.2fms\n", report.Elapsed.Seconds()*1000)
	fmt.Println()

	fmt.Println("Per-Class Performance:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-20s %9s %9s %9s %9s %12s\n", "Class", "Precision", "Recall", "F1", "Support", "Confidence")
	fmt.Println(strings.Repeat("-", 80))
	for _, m := range report.Classes {
		status := "✓"
		if m.Recall < 0.7 {
			status = "⚠"
		}
		fmt.Printf("%-20s %9.3f %9.3f %9.3f %9d %11.1f%%   %s\n",
			className(report, m.Label), m.Precision, m.Recall, m.F1, m.Support, m.AvgConfidence*100, status)
	}
	fmt.Println()

	printConfusionMatrix(report)
	printMisclassifications(report)
}

func printConfusionMatrix(report *evaluation.Report) {
	if len(report.Confusion) == 0 {
		return
	}

	fmt.Println("Confusion Matrix:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-15s", "Actual \\ Pred")
	for label := range report.Confusion {
		fmt.Printf(" %8s", truncate(className(report, label), 8))
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 80))

	for trueLabel, row := range report.Confusion {
		fmt.Printf("%-15s", truncate(className(report, trueLabel), 15))
		for _, count := range row {
			if count > 0 {
				fmt.Printf(" %8d", count)
			} else {
				fmt.Printf(" %8s", ".")
			}
		}
		fmt.Println()
	}
	fmt.Println()
}

func printMisclassifications(report *evaluation.Report) {
	if len(report.Misclassified) == 0 {
		fmt.Println("✓ No misclassifications!")
		fmt.Println()
		return
	}

	fmt.Printf("Misclassifications (%d total):\n", len(report.Misclassified))
	fmt.Println(strings.Repeat("-", 80))
	for i, m := range report.Misclassified {
		if i == 20 {
			fmt.Printf("  ... %d more\n", len(report.Misclassified)-i)
			break
		}
		fmt.Printf("  example %d: %s → predicted as '%s' (%.1f%% confidence)\n",
			m.Index, className(report, m.TrueLabel), className(report, m.Predicted), m.Confidence*100)
	}
	fmt.Println()
}

func printVerdict(report *evaluation.Report) {
	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Println("VERDICT")
	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Printf("%s: %.1f%% test accuracy over %d windows\n",
		evaluation.Verdict(report.Accuracy), report.Accuracy*100, report.Samples)
}
