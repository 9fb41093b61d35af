package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mediaconsole/config"
	"mediaconsole/internal/auth"
	"mediaconsole/internal/database"
	"mediaconsole/models"
)

func main() {
	var (
		configPath = flag.String("config", "cache/settings.json", "Path to backend settings.json")
		inputPath  = flag.String("input", "", "JSON file holding an array of content items")
		viewerID   = flag.String("token-for", "", "print a development bearer token for this viewer id")
		access     = flag.Bool("access", true, "access claim for the issued token")
		ttl        = flag.Duration("ttl", 24*time.Hour, "lifetime of the issued token")
	)
	flag.Parse()

	config.LoadDotEnv()
	mgr := config.NewManager(*configPath)
	settings, err := mgr.Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	config.ApplyEnv(&settings)

	if *inputPath != "" {
		if err := seed(settings.Database.Path, *inputPath); err != nil {
			log.Fatalf("seed catalog: %v", err)
		}
	}

	if *viewerID != "" {
		verifier := auth.NewVerifier(settings.Auth.JWTSecret, false)
		token, err := verifier.Issue(models.Viewer{ID: *viewerID, HasAccess: *access}, *ttl)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
	}

	if *inputPath == "" && *viewerID == "" {
		flag.Usage()
		os.Exit(2)
	}
}

func seed(dbPath, inputPath string) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	var items []models.ContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("decode %s: %w", inputPath, err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.NewContentRepository(db).Upsert(ctx, items...); err != nil {
		return err
	}
	log.Printf("[seedcatalog] imported %d items into %s", len(items), dbPath)
	return nil
}
