// Command migrate applies or rolls back the embedded schema migrations.
//
//	migrate up       apply all pending migrations (default)
//	migrate down     roll back one migration
//	migrate version  print the current version
//	migrate list     print the embedded migration files
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ignite/engagement-tracker/internal/app"
	"github.com/ignite/engagement-tracker/internal/migrations"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/repository/postgres"
)

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	if cmd == "list" {
		files, err := migrations.Files()
		if err != nil {
			app.Fatal("list migrations", "error", err)
		}
		for _, f := range files {
			fmt.Println(" ", f)
		}
		fmt.Printf("Total: %d files\n", len(files))
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		app.Fatal("config", "error", err)
	}
	if cfg.Database.URL == "" {
		app.Fatal("DATABASE_URL is required")
	}

	db, err := postgres.NewDB(context.Background(), cfg.Database.URL, postgres.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		app.Fatal("connect", "error", err)
	}
	defer db.Close()

	switch cmd {
	case "up":
		err = migrations.Up(db)
	case "down":
		err = migrations.Down(db)
	case "version":
	default:
		app.Fatal("unknown command", "command", cmd)
	}
	if err != nil {
		app.Fatal("migrate "+cmd, "error", err)
	}

	version, dirty, err := migrations.Version(db)
	if err != nil {
		app.Fatal("read version", "error", err)
	}
	logger.Info("migrations", "command", cmd, "version", version, "dirty", dirty)
}
