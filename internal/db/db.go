package db

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"paylink-be/internal/config"

	_ "github.com/lib/pq"
)

// InitDB opens the Postgres pool and verifies connectivity before the rest
// of the wiring runs. The pool is shared by the webhook handlers, the
// forwarder and the reconciliation sweeps.
func InitDB(cfg *config.Config) *sql.DB {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
	)

	database, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(30 * time.Minute)

	if err = database.Ping(); err != nil {
		log.Fatalf("failed to reach database: %v", err)
	}

	log.Println("database connection established")
	return database
}
