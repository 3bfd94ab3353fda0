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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsched/clinic-scheduling/internal/auth"
	"github.com/medsched/clinic-scheduling/internal/config"
	"github.com/medsched/clinic-scheduling/internal/db"
)

// simulate fires concurrent booking requests at one doctor and one slot and
// reports how many won. With the doctor-day lock in place exactly one
// request per contended interval should succeed.

type counters struct {
	created   int64
	conflicts int64
	errors    int64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	baseURL := getenv("API_BASE_URL", "http://127.0.0.1:"+cfg.HTTPPort)
	workers := getenvInt("SIM_WORKERS", 20)
	rounds := getenvInt("SIM_ROUNDS", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	doctorID, err := pickOne(pool, "doctors")
	if err != nil {
		log.Fatalf("pick doctor: %v", err)
	}
	patients, err := pickMany(pool, "patients", workers)
	if err != nil {
		log.Fatalf("pick patients: %v", err)
	}

	token, err := signToken(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	day := time.Now().AddDate(0, 0, 1).Format("2006-01-02")

	var totals counters
	for round := 0; round < rounds; round++ {
		slot := fmt.Sprintf("%02d:%02d", 9+round/2, (round%2)*30)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(patientID uuid.UUID) {
				defer wg.Done()
				status := book(client, baseURL, token, doctorID, patientID, day, slot)
				switch status {
				case http.StatusCreated:
					atomic.AddInt64(&totals.created, 1)
				case http.StatusConflict:
					atomic.AddInt64(&totals.conflicts, 1)
				default:
					atomic.AddInt64(&totals.errors, 1)
				}
			}(patients[w%len(patients)])
		}
		wg.Wait()
	}

	log.Printf("rounds=%d workers=%d created=%d conflicts=%d errors=%d",
		rounds, workers, totals.created, totals.conflicts, totals.errors)

	if totals.created > int64(rounds) {
		log.Fatalf("DOUBLE BOOKING: %d bookings created for %d distinct slots", totals.created, rounds)
	}
	log.Printf("ok: at most one booking per contended slot")
}

func book(client *http.Client, baseURL, token string, doctorID, patientID uuid.UUID, date, slot string) int {
	body, _ := json.Marshal(map[string]any{
		"patient_id": patientID.String(),
		"doctor_id":  doctorID.String(),
		"date":       date,
		"time":       slot,
		"reason":     "simulated booking",
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func signToken(secret string) (string, error) {
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: string(auth.RoleReceptionist),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func pickOne(pool *pgxpool.Pool, table string) (uuid.UUID, error) {
	ids, err := pickMany(pool, table, 1)
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

func pickMany(pool *pgxpool.Pool, table string, n int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := pool.Query(ctx, fmt.Sprintf("SELECT id FROM %s LIMIT %d", table, n))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no rows in %s, run cmd/seed first", table)
	}
	return ids, rows.Err()
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
