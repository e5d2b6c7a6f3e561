package main

import (
	"context"
	"flag"
	"log"

	"github.com/pressly/goose/v3"

	"github.com/siga-edu/siga-api/migrations"
	"github.com/siga-edu/siga-api/pkg/config"
	"github.com/siga-edu/siga-api/pkg/database"
)

func main() {
	flag.Parse()
	args := flag.Args()
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set dialect: %v", err)
	}

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}
	ctx := context.Background()
	if err := goose.RunContext(ctx, command, db.DB, ".", rest...); err != nil {
		log.Fatalf("migration %s failed: %v", command, err)
	}
	log.Printf("migration %s complete", command)
}
