package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealdesk/booking-scheduler/internal/config"
	"github.com/dealdesk/booking-scheduler/internal/db"
)

// The simulator deliberately draws booking times from a small grid over a
// narrow window so many workers collide on the same counsellor slots. After
// the run it audits the database directly: if any two occupying bookings for
// the same counsellor overlap, the scheduler lost the race it claims to win.
type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	CounsellorLimit int
	LeadLimit       int
	WindowHours     int
	PostgresDSN     string
}

type DataPool struct {
	TenantID    uuid.UUID
	Counsellors []uuid.UUID
	Leads       []uuid.UUID
	WindowStart time.Time

	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) GetRandomBooking() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rand.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Transition   OperationMetrics
	Availability OperationMetrics
	ListByLead   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f transition=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.TransitionRatio, cfg.ReadRatio)

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

	log.Printf("loaded: tenant=%s %d counsellors, %d leads",
		dataPool.TenantID, len(dataPool.Counsellors), len(dataPool.Leads))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	auditCtx, auditCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer auditCancel()

	if err := auditInvariant(auditCtx, pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATED: %v", err)
	}
	log.Println("invariant audit passed: no overlapping occupying bookings")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.6),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.2),
		CounsellorLimit: getInt("SIM_COUNSELLOR_LIMIT", 5),
		LeadLimit:       getInt("SIM_LEAD_LIMIT", 500),
		WindowHours:     getInt("SIM_WINDOW_HOURS", 8),
		PostgresDSN:     baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{
		WindowStart: time.Now().Truncate(time.Hour).Add(24 * time.Hour),
	}

	err := pool.QueryRow(ctx, `SELECT id FROM tenants ORDER BY created_at LIMIT 1`).Scan(&dataPool.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM counsellors WHERE tenant_id = $1 LIMIT $2
	`, dataPool.TenantID, cfg.CounsellorLimit)
	if err != nil {
		return nil, fmt.Errorf("load counsellors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Counsellors = append(dataPool.Counsellors, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM leads WHERE tenant_id = $1 LIMIT $2
	`, dataPool.TenantID, cfg.LeadLimit)
	if err != nil {
		return nil, fmt.Errorf("load leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Leads = append(dataPool.Leads, id)
	}

	if len(dataPool.Counsellors) == 0 {
		return nil, fmt.Errorf("no counsellors loaded, run cmd/seed first")
	}
	if len(dataPool.Leads) == 0 {
		return nil, fmt.Errorf("no leads loaded, run cmd/seed first")
	}

	return dataPool, nil
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
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doListByLead(ctx, rng)
				}
			}
		}
	}
}

// doBooking picks a counsellor and a 15-minute grid point inside the shared
// window, so overlap attempts are frequent on purpose.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	counsellorID := s.pool.Counsellors[rng.Intn(len(s.pool.Counsellors))]
	leadID := s.pool.Leads[rng.Intn(len(s.pool.Leads))]

	gridPoints := s.config.WindowHours * 4
	scheduledAt := s.pool.WindowStart.Add(time.Duration(rng.Intn(gridPoints)) * 15 * time.Minute)

	start := time.Now()

	reqBody := map[string]any{
		"lead_id":          leadID.String(),
		"assigned_user_id": counsellorID.String(),
		"booking_type":     "intro_call",
		"booking_source":   "simulator",
		"scheduled_at":     scheduledAt.Format(time.RFC3339),
		"created_by":       leadID.String(),
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", s.pool.TenantID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var bookingResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				json.Unmarshal(bodyBytes, &bookingResp)
				if bookingResp.ID != uuid.Nil {
					s.pool.AddBooking(bookingResp.ID)
				}
			}
		case http.StatusBadRequest, http.StatusConflict:
			// slot_unavailable and calendar_busy both count as contention
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.GetRandomBooking()
	if !ok {
		return
	}

	var url string
	var body io.Reader
	if rng.Intn(2) == 0 {
		url = fmt.Sprintf("%s/bookings/%s/complete", s.config.APIBaseURL, bookingID)
	} else {
		statuses := []string{"missed", "failed", "cancelled"}
		payload, _ := json.Marshal(map[string]string{"status": statuses[rng.Intn(len(statuses))]})
		url = fmt.Sprintf("%s/bookings/%s/fail", s.config.APIBaseURL, bookingID)
		body = bytes.NewReader(payload)
	}

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "POST", url, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", s.pool.TenantID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Transition.Record(latency, success, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	counsellorID := s.pool.Counsellors[rng.Intn(len(s.pool.Counsellors))]
	dayStart := s.pool.WindowStart
	dayEnd := dayStart.Add(time.Duration(s.config.WindowHours) * time.Hour)

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/counsellors/%s/availability?day_start=%s&day_end=%s&slot_minutes=15",
			s.config.APIBaseURL, counsellorID,
			dayStart.Format(time.RFC3339), dayEnd.Format(time.RFC3339)), nil)
	req.Header.Set("X-Tenant-ID", s.pool.TenantID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) doListByLead(ctx context.Context, rng *rand.Rand) {
	leadID := s.pool.Leads[rng.Intn(len(s.pool.Leads))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/leads/%s/bookings", s.config.APIBaseURL, leadID), nil)
	req.Header.Set("X-Tenant-ID", s.pool.TenantID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListByLead.Record(latency, success, false)
}

// auditInvariant fails if any two non-deleted occupying bookings for the same
// tenant and counsellor have intersecting [scheduled_at, buffer_until) ranges.
func auditInvariant(ctx context.Context, pool *pgxpool.Pool) error {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings a
		JOIN bookings b
		  ON a.tenant_id = b.tenant_id
		 AND a.assigned_user_id = b.assigned_user_id
		 AND a.id < b.id
		 AND a.scheduled_at < b.buffer_until
		 AND b.scheduled_at < a.buffer_until
		WHERE a.status IN ('scheduled', 'in_progress')
		  AND b.status IN ('scheduled', 'in_progress')
		  AND NOT a.is_deleted
		  AND NOT b.is_deleted
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("audit query: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("%d overlapping booking pairs found", count)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List by Lead", &s.metrics.ListByLead)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, def time.Duration) time.Duration {
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

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
