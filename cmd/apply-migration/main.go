package main

import (
	"log"
	"os"
	"path/filepath"
	"sort"

	"landrec-import/internal/config"
	"landrec-import/internal/database"

	_ "github.com/lib/pq"
)

// Applies the SQL files under scripts/sql (or the files given as arguments)
// against the configured database. Statements run file-by-file inside one
// transaction per file.
func main() {
	files := os.Args[1:]
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join("scripts", "sql", "*.sql"))
		if err != nil || len(matches) == 0 {
			log.Fatalf("Usage: %s [migration_file.sql ...] (no files found under scripts/sql)", os.Args[0])
		}
		sort.Strings(matches)
		files = matches
	}

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database: %s", cfg.Database.Database)

	for _, file := range files {
		sqlContent, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", file, err)
		}

		tx, err := db.Begin()
		if err != nil {
			log.Fatalf("Failed to begin transaction: %v", err)
		}
		if _, err := tx.Exec(string(sqlContent)); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Failed to apply %s: %v", file, err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalf("Failed to commit %s: %v", file, err)
		}
		log.Printf("Applied %s", file)
	}

	log.Println("Migration completed successfully")
}
