package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenispa/reservation-engine/internal/config"
	"github.com/serenispa/reservation-engine/internal/db"
)

// The simulator hammers the hold endpoint with many workers competing
// for a small set of slots, then reports how often the engine let more
// than one of them through (it should be never) alongside latency
// percentiles.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	SlotLimit   int
	HoldRatio   float64
	CancelRatio float64
	PostgresDSN string
}

type slotTarget struct {
	ShopID      uuid.UUID
	TherapistID uuid.UUID
	StartAt     time.Time
}

type DataPool struct {
	Slots []slotTarget

	mu    sync.RWMutex
	holds []uuid.UUID
}

func (dp *DataPool) AddHold(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.holds = append(dp.holds, id)
}

func (dp *DataPool) RandomHold(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.holds) == 0 {
		return uuid.Nil, false
	}
	return dp.holds[rng.Intn(len(dp.holds))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	hold    OperationMetrics
	cancel  OperationMetrics
	slots   OperationMetrics
	winners sync.Map // slot key -> *int64 count of accepted holds
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required (set in .env or environment)")
	}

	log.Printf("config: duration=%s workers=%d slots=%d", cfg.Duration, cfg.Workers, cfg.SlotLimit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d contended slots", len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 10),
		HoldRatio:   0.6,
		CancelRatio: 0.2,
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

// loadDataPool picks upcoming shift starts and deliberately reuses a
// small set so workers collide on the same slots.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT sh.shop_id, sh.therapist_id, sh.start_at
		FROM shifts sh
		WHERE sh.start_at > now() + interval '2 hours'
		  AND sh.availability_status = 'available'
		ORDER BY sh.start_at
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{}
	for rows.Next() {
		var t slotTarget
		if err := rows.Scan(&t.ShopID, &t.TherapistID, &t.StartAt); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no upcoming shifts loaded, run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.HoldRatio:
				s.doHold(ctx, rng)
			case r < s.config.HoldRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doHold(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	userID := uuid.New()

	body, _ := json.Marshal(map[string]any{
		"shop_id":          target.ShopID.String(),
		"therapist_id":     target.TherapistID.String(),
		"start_at":         target.StartAt.Format(time.RFC3339),
		"duration_minutes": 60,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIBaseURL+"/api/v1/reservations/hold", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	req.Header.Set("X-User-ID", userID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		if resp.StatusCode == http.StatusCreated {
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&created)
			if created.ID != uuid.Nil {
				s.pool.AddHold(created.ID)
			}
			s.countWinner(target)
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
		resp.Body.Close()
	}

	s.hold.Record(latency, success, conflict)
}

func (s *Simulator) countWinner(target slotTarget) {
	key := fmt.Sprintf("%s|%s", target.TherapistID, target.StartAt.Format(time.RFC3339))
	v, _ := s.winners.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomHold(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/reservations/%s/cancel", s.config.APIBaseURL, id), nil)
	req.Header.Set("X-Admin", "true")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
		resp.Body.Close()
	}
	s.cancel.Record(latency, success, conflict)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/therapists/%s/slots?date=%s",
			s.config.APIBaseURL, target.TherapistID, target.StartAt.Format("2006-01-02")), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		resp.Body.Close()
	}
	s.slots.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n================================================================")
	fmt.Println("SIMULATION REPORT")
	fmt.Println("================================================================")
	fmt.Printf("Duration: %s  Workers: %d\n\n", s.config.Duration, s.config.Workers)

	printOperationReport("Hold", &s.hold)
	printOperationReport("Cancel", &s.cancel)
	printOperationReport("Daily slots", &s.slots)

	// With cancels in the mix a slot can legitimately be won more than
	// once over the run; what must never happen is two concurrent
	// winners, which would show up here as wins far exceeding cancels.
	overbooked := 0
	s.winners.Range(func(key, v any) bool {
		if n := atomic.LoadInt64(v.(*int64)); n > 1 {
			overbooked++
			fmt.Printf("  slot %s won %d times (check cancels)\n", key, n)
		}
		return true
	})
	if overbooked == 0 {
		fmt.Println("No slot won by more than one concurrent hold.")
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d  Success: %d (%.1f%%)", total, success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)", errs, float64(errs)/float64(total)*100)
	}
	fmt.Println()
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
