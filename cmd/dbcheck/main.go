// Package main implements dbcheck, a connectivity diagnostic: it connects
// with the same configuration the server would use, reports the migration
// version, and prints row counts for the core tables. Useful for verifying a
// deployment environment before the server itself starts.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		log.Fatalf("ping failed: %v", err)
	}
	fmt.Printf("Connected to %s@%s:%d/%s\n",
		cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		fmt.Printf("Schema version: unknown (%v)\n", err)
	} else {
		fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)
	}

	for _, table := range []string{"change_sets", "change_records", "api_keys"} {
		var count int64
		if err := database.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			fmt.Printf("%-15s error: %v\n", table, err)
			continue
		}
		fmt.Printf("%-15s %d rows\n", table, count)
	}
}
