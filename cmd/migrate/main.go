package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	"chatsync/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Applies the embedded schema to a database file ahead of first run.
// The daemon applies the same schema on startup; this tool exists for
// provisioning a database out of band, e.g. on a read-only deployment
// where the service account cannot create files.
func main() {
	dbPath := flag.String("db", "./chatsync.db", "Path to the database file")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	fmt.Printf("Schema applied to %s\n", *dbPath)
}
