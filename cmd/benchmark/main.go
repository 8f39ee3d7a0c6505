package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Created
	fail422       uint64 // Validation rejections (mostly insufficient funds)
	fail503       uint64 // Contention timeouts
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 10 * time.Second}
	tokens := map[int64]string{}

	for time.Since(start) < duration {
		from, to := generateUsers()

		token, err := loginAs(client, tokens, from)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		payload := map[string]interface{}{
			"counterparty_user_id": to,
			"amount":               "1.00",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers/send", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		case 503:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// loginAs fetches (and caches per worker) a bearer token for the seeded user.
func loginAs(client *http.Client, tokens map[int64]string, userID int64) (string, error) {
	if token, ok := tokens[userID]; ok {
		return token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": fmt.Sprintf("user%04d", userID),
		"password": "password",
	})
	resp, err := client.Post(targetURL+"/api/v1/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var caller struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&caller); err != nil {
		return "", err
	}
	tokens[userID] = caller.Token
	return caller.Token, nil
}

func generateUsers() (int64, int64) {
	// Assumes 1000 users seeded (user0001-user1000)
	totalUsers := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic bounces between users 1 & 2 in both
		// directions, stressing the ordered-lock path.
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return 1, 2
			}
			return 2, 1
		}
	}

	// Uniform Random
	a := rand.Intn(totalUsers) + 1
	b := rand.Intn(totalUsers) + 1
	for a == b {
		b = rand.Intn(totalUsers) + 1
	}
	return int64(a), int64(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f422 := atomic.LoadUint64(&fail422)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	contentionRate := float64(f503) / float64(total) * 100

	results := map[string]interface{}{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_tps":      tps,
		"success_created":     s201,
		"rejected_validation": f422,
		"contention_timeouts": f503,
		"contention_rate_pct": contentionRate,
		"errors":              fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
