package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datafactory/internal/database"

	"gorm.io/gorm"
)

const MaxThrottleRetries = 3

// ErrRegistryUnavailable wraps throttle-class registry errors that survived
// the bounded retry. Fatal for the whole task; the queue layer retries.
var ErrRegistryUnavailable = errors.New("dedup registry unavailable")

// Registry is the atomic check-and-register primitive over the shared keyed
// store. It must never let two distinct sample ids both win the same
// (generator, hash) key, under arbitrary concurrency or re-delivery.
type Registry interface {
	CheckAndRegister(ctx context.Context, generatorName, paramHash, sampleId string) (bool, error)
}

// GormRegistry implements Registry with a unique-constraint insert: the
// composite primary key on DedupRecord makes the first insert win and every
// later one fail with a duplicate-key error, which is then resolved by a
// point lookup of the owning sample id.
type GormRegistry struct {
	db          *gorm.DB
	backoffBase time.Duration
}

var _ Registry = (*GormRegistry)(nil)

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db, backoffBase: time.Second}
}

// CheckAndRegister returns true if the caller's sample id now owns the hash
// (newly registered, or previously registered by the same id on a
// re-delivered task) and false if a different sample already owns it.
func (r *GormRegistry) CheckAndRegister(ctx context.Context, generatorName, paramHash, sampleId string) (bool, error) {
	var owned bool
	err := withThrottleRetry(r.backoffBase, func() error {
		var err error
		owned, err = r.checkAndRegisterOnce(ctx, generatorName, paramHash, sampleId)
		return err
	})
	return owned, err
}

func (r *GormRegistry) checkAndRegisterOnce(ctx context.Context, generatorName, paramHash, sampleId string) (bool, error) {
	record := database.DedupRecord{
		GeneratorName: generatorName,
		ParamHash:     paramHash,
		SampleId:      sampleId,
		CreationTime:  time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return true, nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.isOwnedBy(ctx, generatorName, paramHash, sampleId)
	}

	return false, err
}

func (r *GormRegistry) isOwnedBy(ctx context.Context, generatorName, paramHash, sampleId string) (bool, error) {
	var existing database.DedupRecord
	if err := r.db.WithContext(ctx).
		First(&existing, "generator_name = ? AND param_hash = ?", generatorName, paramHash).Error; err != nil {
		return false, fmt.Errorf("dedup registry lookup failed: %w", err)
	}

	if existing.SampleId == sampleId {
		slog.Info("hash already registered by same sample, treating as re-delivery", "param_hash", paramHash, "sample_id", sampleId)
		return true, nil
	}

	slog.Info("hash owned by another sample", "param_hash", paramHash, "owner", existing.SampleId, "sample_id", sampleId)
	return false, nil
}

// withThrottleRetry retries throttle-class errors with attempt-indexed
// exponential backoff (base 2). Any other error returns immediately;
// exhaustion surfaces as ErrRegistryUnavailable so the task fails and the
// queue can re-deliver it.
func withThrottleRetry(base time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < MaxThrottleRetries; attempt++ {
		err := fn()
		if err == nil || !isThrottled(err) {
			return err
		}

		lastErr = err
		wait := base * (1 << attempt)
		slog.Warn("dedup registry throttled, retrying", "wait", wait, "attempt", attempt+1, "max_attempts", MaxThrottleRetries)
		time.Sleep(wait)
	}
	return fmt.Errorf("%w: %v", ErrRegistryUnavailable, lastErr)
}

// DynamoDB-style throttle codes have no direct GORM equivalent; congestion
// shows up as driver errors with recognizable text instead.
var throttleMarkers = []string{
	"database is locked",
	"too many connections",
	"connection reset",
	"timeout",
	"throttl",
}

func isThrottled(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range throttleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
