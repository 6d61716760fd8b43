package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/sketchd/pkg/config"
)

func main() {
	cfg := config.Load()
	dbPath := flag.String("db", cfg.DBPath, "sqlite database path")
	rows := flag.Int("rows", 200000, "events to insert")
	users := flag.Uint64("users", 50000, "distinct user ids")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()
	if *users < 2 {
		log.Fatalf("users must be at least 2, got %d", *users)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := seedEvents(db, *rows, *users, *seed); err != nil {
		log.Fatalf("seed events: %v", err)
	}
	fmt.Println("Seed done.")
}

// seedEvents recreates the events table. user_id and page follow Zipf
// distributions so frequency sketches have heavy hitters to find.
func seedEvents(db *sql.DB, n int, users uint64, seed int64) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS events`); err != nil {
		return fmt.Errorf("drop: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE events (
        id INTEGER PRIMARY KEY,
        ts TEXT NOT NULL,
        user_id INTEGER NOT NULL,
        country TEXT NOT NULL,
        page TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("create: %v", err)
	}

	rng := rand.New(rand.NewSource(seed))
	userDist := rand.NewZipf(rng, 1.1, 1, users-1)
	pageDist := rand.NewZipf(rng, 1.3, 1, 999)
	countries := []string{"US", "IN", "DE", "FR", "GB", "BR", "CA", "AU", "JP", "MX"}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO events(ts, user_id, country, page) VALUES (?,?,?,?)")
	if err != nil {
		return fmt.Errorf("prepare statement: %v", err)
	}
	defer stmt.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(rng.Intn(365*24*3600)) * time.Second)
		page := fmt.Sprintf("/p/%d", pageDist.Uint64())
		if _, err := stmt.Exec(ts.Format(time.RFC3339), userDist.Uint64(), countries[rng.Intn(len(countries))], page); err != nil {
			return fmt.Errorf("insert %d: %v", i, err)
		}
		if i%10000 == 0 {
			log.Printf("inserted %d/%d events", i, n)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %v", err)
	}
	log.Printf("Successfully seeded events with %d records", n)
	return nil
}
