package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// The simulator hammers single slots with concurrent bookings from distinct
// patients, then races duplicate treatment recordings on each winner. Every
// round must end with exactly one booking and exactly one treatment record.

type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Contenders  int
	StartOffset int // days from today of the first contested slot
	SlotTime    string
	PostgresDSN string
	JWTSecret   string
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Booking   OperationMetrics
	Treatment OperationMetrics
}

type roundResult struct {
	date      string
	winners   int
	conflicts int
	errors    int
	recorded  int
}

type Simulator struct {
	config    SimConfig
	log       *zap.Logger
	client    *http.Client
	auth      *identity.JWTAuthenticator
	clinician uuid.UUID
	patients  []uuid.UUID
	metrics   Metrics
	results   []roundResult
}

func main() {
	cfg, logger := loadConfig()
	defer func() { _ = logger.Sync() }()

	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Int("rounds", cfg.Rounds),
		zap.Int("contenders", cfg.Contenders),
		zap.String("api", cfg.APIBaseURL),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.WithMaxConns(2))
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	clinician, patients, err := loadParticipants(ctx, pgPool, cfg.Contenders)
	if err != nil {
		logger.Fatal("load participants", zap.Error(err))
	}

	sim := &Simulator{
		config:    cfg,
		log:       logger,
		client:    &http.Client{Timeout: 10 * time.Second},
		auth:      identity.NewJWTAuthenticator(cfg.JWTSecret),
		clinician: clinician,
		patients:  patients,
	}

	sim.Run(context.Background())
	if ok := sim.PrintReport(); !ok {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, *zap.Logger) {
	baseCfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(baseCfg.LogLevel, baseCfg.LogFormat, "simulate")
	if err != nil {
		panic(err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:      getInt("SIM_ROUNDS", 5),
		Contenders:  getInt("SIM_CONTENDERS", 50),
		StartOffset: getInt("SIM_START_OFFSET_DAYS", 30),
		SlotTime:    getEnv("SIM_SLOT_TIME", "09:00"),
		PostgresDSN: baseCfg.PostgresDSN,
		JWTSecret:   baseCfg.JWTSecret,
	}, logger
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint simulator tokens")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	return nil
}

func loadParticipants(ctx context.Context, pool *pgxpool.Pool, count int) (uuid.UUID, []uuid.UUID, error) {
	var clinician uuid.UUID
	err := pool.QueryRow(ctx, `
		SELECT id FROM clinicians WHERE deleted_at IS NULL ORDER BY created_at LIMIT 1
	`).Scan(&clinician)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("load clinician: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE deleted_at IS NULL LIMIT $1
	`, count)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	var patients []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return uuid.Nil, nil, err
		}
		patients = append(patients, id)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, nil, err
	}
	if len(patients) < 2 {
		return uuid.Nil, nil, fmt.Errorf("need at least 2 patients, found %d", len(patients))
	}
	return clinician, patients, nil
}

func (s *Simulator) Run(ctx context.Context) {
	for round := 0; round < s.config.Rounds; round++ {
		date := time.Now().AddDate(0, 0, s.config.StartOffset+round).Format("2006-01-02")
		res := roundResult{date: date}

		winner := s.contendForSlot(ctx, date, &res)
		if winner != uuid.Nil {
			res.recorded = s.raceTreatments(ctx, winner)
		}

		s.log.Info("round complete",
			zap.Int("round", round+1),
			zap.String("date", date),
			zap.Int("winners", res.winners),
			zap.Int("conflicts", res.conflicts),
			zap.Int("errors", res.errors),
			zap.Int("treatments", res.recorded),
		)
		s.results = append(s.results, res)
	}
}

func (s *Simulator) contendForSlot(ctx context.Context, date string, res *roundResult) uuid.UUID {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner uuid.UUID
	)
	start := make(chan struct{})

	for i := 0; i < s.config.Contenders; i++ {
		patient := s.patients[i%len(s.patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, status := s.doBooking(ctx, patient, date)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case http.StatusCreated:
				res.winners++
				winner = id
			case http.StatusConflict:
				res.conflicts++
			default:
				res.errors++
			}
		}()
	}
	close(start)
	wg.Wait()
	return winner
}

func (s *Simulator) doBooking(ctx context.Context, patient uuid.UUID, date string) (uuid.UUID, int) {
	body, _ := json.Marshal(map[string]string{
		"patient_id":   patient.String(),
		"clinician_id": s.clinician.String(),
		"date":         date,
		"time":         s.config.SlotTime,
		"reason":       "load simulation",
	})

	start := time.Now()
	status, respBody, err := s.post(ctx, "/appointments", identity.Caller{ID: patient, Role: identity.RolePatient}, body)
	latency := time.Since(start)
	if err != nil {
		s.log.Warn("booking request failed", zap.Error(err))
		s.metrics.Booking.Record(latency, false, false)
		return uuid.Nil, 0
	}

	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	if status == http.StatusCreated {
		_ = json.Unmarshal(respBody, &appt)
	}
	return appt.ID, status
}

func (s *Simulator) raceTreatments(ctx context.Context, appointmentID uuid.UUID) int {
	body, _ := json.Marshal(map[string]string{
		"diagnosis":    "simulated diagnosis",
		"prescription": "simulated prescription",
	})
	doctor := identity.Caller{ID: s.clinician, Role: identity.RoleDoctor}

	var recorded int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			status, _, err := s.post(ctx, "/appointments/"+appointmentID.String()+"/treatment", doctor, body)
			latency := time.Since(start)
			if err != nil {
				s.metrics.Treatment.Record(latency, false, false)
				return
			}
			if status == http.StatusCreated {
				atomic.AddInt64(&recorded, 1)
			}
			s.metrics.Treatment.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
		}()
	}
	wg.Wait()
	return int(recorded)
}

func (s *Simulator) post(ctx context.Context, path string, caller identity.Caller, body []byte) (int, []byte, error) {
	token, err := s.auth.IssueToken(caller, time.Minute)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

// PrintReport prints the summary and reports whether every round held the
// one-winner and one-record guarantees.
func (s *Simulator) PrintReport() bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Rounds: %d  Contenders per slot: %d\n\n", s.config.Rounds, s.config.Contenders)

	ok := true
	for i, r := range s.results {
		verdict := "ok"
		if r.winners != 1 || r.recorded != 1 {
			verdict = "VIOLATION"
			ok = false
		}
		fmt.Printf("round %d %s %s: winners=%d conflicts=%d errors=%d treatments=%d\n",
			i+1, r.date, s.config.SlotTime, r.winners, r.conflicts, r.errors, r.recorded)
		if verdict != "ok" {
			fmt.Printf("  %s\n", verdict)
		}
	}
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Treatment", &s.metrics.Treatment)
	return ok
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
