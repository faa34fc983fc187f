package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"dealgate.io/internal/store/pg"
)

// reconcile sweeps agreement tracks whose expiration has passed and persists
// the expired status. Coverage answers are already correct without it; the
// sweep keeps stored rows and reports aligned with read-time truth.
func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("DEALGATE_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Sweep deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DEALGATE_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	expired, err := store.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Fatalf("mark expired: %v", err)
	}
	for _, track := range expired {
		log.Printf("expired %s agreement for %s (%s), lapsed at %s",
			track.Type, track.OrganizationName, track.OrganizationID,
			track.ExpiredAt.Format(time.RFC3339))
	}
	log.Printf("%d track(s) marked expired", len(expired))
}
