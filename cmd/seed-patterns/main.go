// Command seed-patterns loads the default extraction pattern set and a
// starter consensus rule into an empty database. Patterns are only seeded
// when the table is empty, so rerunning is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/config"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

func main() {
	godotenv.Load()

	withRule := flag.Bool("rule", true, "also create a starter consensus rule")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	ctx := context.Background()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		fmt.Printf("failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		fmt.Printf("failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	repo := database.NewRepository(db)

	seeded, err := repo.SeedPatterns(ctx, patterns.DefaultSet())
	if err != nil {
		fmt.Printf("failed to seed patterns: %v\n", err)
		os.Exit(1)
	}
	if seeded == 0 {
		fmt.Println("patterns table is not empty, nothing seeded")
	} else {
		fmt.Printf("seeded %d default patterns\n", seeded)
	}

	if !*withRule {
		return
	}

	existing, err := repo.ListRules(ctx)
	if err != nil {
		fmt.Printf("failed to list rules: %v\n", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		fmt.Println("rules already exist, starter rule not created")
		return
	}

	rule := consensus.Rule{
		Name:            "Two traders in 30 minutes",
		MinTraders:      2,
		WindowMinutes:   30,
		StrictConsensus: true,
		MinConfidence:   0.4,
		MinStrength:     50,
		IsActive:        true,
	}
	if rejected := rule.Validate(); rejected != nil {
		fmt.Printf("starter rule rejected: %v\n", rejected)
		os.Exit(1)
	}
	if err := repo.CreateRule(ctx, &rule); err != nil {
		fmt.Printf("failed to create rule: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created starter rule #%d %q\n", rule.ID, rule.Name)
}
