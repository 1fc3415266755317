package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"nfc-rfml/config"
	"nfc-rfml/utils"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Expected 'serve' subcommand")
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		protocol := serveCmd.String("proto", "http", "Protocol to use (http or https)")
		port := serveCmd.String("p", "5000", "Port to use")
		configPath := serveCmd.String("config", utils.GetEnv("RFML_CONFIG", ""), "Experiment file providing build defaults")
		serveCmd.Parse(os.Args[2:])

		cfg, err := config.Load(*configPath)
		if err != nil {
			logger := utils.GetLogger()
			err := xerrors.New(err)
			logger.ErrorContext(context.Background(), "Failed to load configuration.", slog.Any("error", err))
			os.Exit(1)
		}
		if *configPath != "" {
			log.Printf("Loaded build defaults from %s\n", *configPath)
		}
		serve(*protocol, *port, cfg)
	default:
		fmt.Println("Expected 'serve' subcommand")
		os.Exit(1)
	}
}
