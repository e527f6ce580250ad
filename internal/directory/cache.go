package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const (
	KindClinician = "clinician"
	KindPatient   = "patient"
)

// CachedDirectory remembers positive answers in Redis for ttl.
// Negative answers always go to the inner directory so newly created
// profiles are bookable immediately.
//
// A clinician or patient soft-deleted in Postgres keeps answering true until
// the cached entry expires, so they stay bookable for up to ttl. That window
// is accepted; set DIRECTORY_CACHE_TTL=0 to disable the cache, or call Forget
// from whatever performs the delete to close it.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedDirectory(inner Directory, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	return &CachedDirectory{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logging.OrNop(logger),
	}
}

func (d *CachedDirectory) ClinicianExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.lookup(ctx, KindClinician, id, d.inner.ClinicianExists)
}

func (d *CachedDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.lookup(ctx, KindPatient, id, d.inner.PatientExists)
}

func (d *CachedDirectory) lookup(ctx context.Context, kind string, id uuid.UUID, load func(context.Context, uuid.UUID) (bool, error)) (bool, error) {
	key := fmt.Sprintf("directory:%s:%s", kind, id)

	err := d.client.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, redis.Nil):
		// cache trouble never blocks a booking
		d.logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
	}

	exists, err := load(ctx, id)
	if err != nil || !exists {
		return exists, err
	}

	if err := d.client.Set(ctx, key, "1", d.ttl).Err(); err != nil {
		d.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
	return true, nil
}

// Forget drops a cached entry. Nothing in this service deletes profiles, so
// it is for the process that does.
func (d *CachedDirectory) Forget(ctx context.Context, kind string, id uuid.UUID) error {
	return d.client.Del(ctx, fmt.Sprintf("directory:%s:%s", kind, id)).Err()
}
