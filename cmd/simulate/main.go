package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bcx0/agenda/internal/db"
)

// simulate hammers a single free slot with concurrent booking requests
// from distinct clients and reports how many won. With the slot lock in
// place the success count must be exactly one.

type slotResponse struct {
	Start  time.Time `json:"start"`
	Status string    `json:"status"`
}

type bookingRequest struct {
	ClientID string `json:"client_id"`
	Start    string `json:"start"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	baseURL := getenv("API_BASE_URL", "http://localhost:8080")
	workers := getenvInt("SIM_WORKERS", 32)
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	clients, err := loadClients(ctx, dsn, workers)
	if err != nil {
		log.Fatalf("load clients: %v", err)
	}
	if len(clients) < workers {
		log.Fatalf("need %d active clients, have %d (run seed first)", workers, len(clients))
	}

	slot, err := firstAvailableSlot(ctx, baseURL)
	if err != nil {
		log.Fatalf("find slot: %v", err)
	}
	log.Printf("contending for slot %s with %d workers", slot.Format(time.RFC3339), workers)

	var success, conflict, other int64
	httpClient := &http.Client{Timeout: 15 * time.Second}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(clientID uuid.UUID) {
			defer wg.Done()
			<-start

			code, err := postBooking(ctx, httpClient, baseURL, clientID, slot)
			switch {
			case err != nil:
				atomic.AddInt64(&other, 1)
				log.Printf("request error: %v", err)
			case code == http.StatusCreated:
				atomic.AddInt64(&success, 1)
			case code == http.StatusConflict:
				atomic.AddInt64(&conflict, 1)
			default:
				atomic.AddInt64(&other, 1)
				log.Printf("unexpected status %d", code)
			}
		}(clients[i])
	}

	began := time.Now()
	close(start)
	wg.Wait()

	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("workers:   %d\n", workers)
	fmt.Printf("success:   %d\n", success)
	fmt.Printf("conflict:  %d\n", conflict)
	fmt.Printf("other:     %d\n", other)
	fmt.Printf("elapsed:   %s\n", time.Since(began))

	if success != 1 {
		log.Fatalf("FAIL: expected exactly 1 winner, got %d", success)
	}
	log.Println("PASS: single winner")
}

func loadClients(ctx context.Context, dsn string, limit int) ([]uuid.UUID, error) {
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT id FROM clients
		WHERE is_active = true AND credits_per_month > 0
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func firstAvailableSlot(ctx context.Context, baseURL string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/slots", nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return time.Time{}, fmt.Errorf("GET /slots: %d %s", resp.StatusCode, body)
	}

	var slots []slotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return time.Time{}, err
	}
	for _, s := range slots {
		if s.Status == "available" {
			return s.Start, nil
		}
	}
	return time.Time{}, fmt.Errorf("no available slots")
}

func postBooking(ctx context.Context, client *http.Client, baseURL string, clientID uuid.UUID, slot time.Time) (int, error) {
	body, err := json.Marshal(bookingRequest{
		ClientID: clientID.String(),
		Start:    slot.Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
