package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcx0/agenda/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedSettings(context.Background(), pool); err != nil {
		log.Fatalf("seed settings: %v", err)
	}
	if err := seedWeeklyRules(context.Background(), pool); err != nil {
		log.Fatalf("seed weekly rules: %v", err)
	}
	if err := seedClients(context.Background(), pool, 25); err != nil {
		log.Fatalf("seed clients: %v", err)
	}

	log.Println("seed complete")
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO settings (id, location, default_mode, presentiel_location, presentiel_note)
		VALUES (1, 'MIAMI', 'VISIO', 'Vander Valk', NULL)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	log.Println("settings seeded")
	return nil
}

func seedWeeklyRules(ctx context.Context, pool *pgxpool.Pool) error {
	// Monday through Friday, 09:00-12:00 and 14:00-18:00 primary time.
	type window struct{ startMin, endMin int }
	windows := []window{{9 * 60, 12 * 60}, {14 * 60, 18 * 60}}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for day := 1; day <= 5; day++ {
		for _, w := range windows {
			_, err := tx.Exec(ctx, `
				INSERT INTO weekly_rules (day_of_week, start_min, end_min)
				VALUES ($1, $2, $3)
			`, day, w.startMin, w.endMin)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("weekly rules seeded")
	return nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d clients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()
		credits := gofakeit.Number(1, 8)

		_, err := tx.Exec(ctx, `
			INSERT INTO clients (id, name, email, credits_per_month, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
		`, id, name, email, credits)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("clients seeded")
	return nil
}
