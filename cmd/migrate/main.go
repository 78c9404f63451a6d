package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wolfman30/dealer-sms-agent/cmd/mainconfig"
	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/database"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Subcommands: migrate [up] | migrate force <version> | migrate version
	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "force":
		if len(os.Args) < 3 {
			logger.Error("usage: migrate force <version>")
			os.Exit(2)
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Error("invalid version", "error", err)
			os.Exit(2)
		}
		if err := database.Force(db, version); err != nil {
			logger.Error("force failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("forced version to %d\n", version)
	case "version":
		version, err := database.SchemaVersion(ctx, db)
		if err != nil {
			logger.Error("failed to read schema version", "error", err, "version", version)
			os.Exit(1)
		}
		fmt.Printf("schema version %d\n", version)
	case "up":
		if _, err := database.Migrate(db, logger); err != nil {
			logger.Error("migrate up failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("migrations complete")
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
}
