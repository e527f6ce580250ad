package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "seed")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	clinicians := envInt("SEED_CLINICIANS", 100)
	patients := envInt("SEED_PATIENTS", 9000)
	logger.Info("seed starting", zap.Int("clinicians", clinicians), zap.Int("patients", patients))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	clinicianIDs, err := seedClinicians(context.Background(), pool, faker, logger, clinicians)
	if err != nil {
		logger.Fatal("seed clinicians", zap.Error(err))
	}
	patientIDs, err := seedPatients(context.Background(), pool, faker, logger, patients)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	// Sample tokens make the seeded data usable against a local server.
	if cfg.JWTSecret != "" && len(clinicianIDs) > 0 && len(patientIDs) > 0 {
		auth := identity.NewJWTAuthenticator(cfg.JWTSecret)
		for _, c := range []identity.Caller{
			{ID: uuid.New(), Role: identity.RoleAdmin},
			{ID: clinicianIDs[0], Role: identity.RoleDoctor},
			{ID: patientIDs[0], Role: identity.RolePatient},
		} {
			tok, err := auth.IssueToken(c, 24*time.Hour)
			if err != nil {
				logger.Fatal("issue token", zap.Error(err))
			}
			logger.Info("sample token", zap.String("role", string(c.Role)), zap.String("id", c.ID.String()), zap.String("token", tok))
		}
	}

	logger.Info("seed complete")
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *zap.Logger, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := 0; i < count; i++ {
		id := uuid.New()
		specialty := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO clinicians (id, full_name, specialty, email, phone, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, id, "Dr. "+faker.Name(), specialty, uniqueEmail(faker, "clinic", i), faker.Phone())
		if err != nil {
			return nil, fmt.Errorf("insert clinician: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("clinicians seeded", zap.Int("count", count))
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *zap.Logger, count int) ([]uuid.UUID, error) {
	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.NewPgTxManager(pool).InTx(ctx, func(txCtx context.Context) error {
			conn := db.Conn(txCtx, pool)
			for i := offset; i < end; i++ {
				id := uuid.New()
				dob := faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))

				_, err := conn.Exec(txCtx, `
					INSERT INTO patients (id, full_name, email, phone, date_of_birth, created_at)
					VALUES ($1, $2, $3, $4, $5, now())
				`, id, faker.Name(), uniqueEmail(faker, "patient", i), faker.Phone(), dob)
				if err != nil {
					return fmt.Errorf("insert patient: %w", err)
				}
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// uniqueEmail keeps the email column's unique constraint happy across reruns.
func uniqueEmail(faker *gofakeit.Faker, prefix string, i int) string {
	return fmt.Sprintf("%s.%d.%s@%s", prefix, i, faker.LetterN(6), faker.DomainName())
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
