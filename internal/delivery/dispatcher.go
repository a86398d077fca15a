package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/mailer"
)

// ErrDispatchInProgress means another dispatch run holds the poll's lock.
var ErrDispatchInProgress = errors.New("dispatch already in progress for this poll")

// lockTTL caps how long a crashed dispatch run can hold a poll's lock.
const lockTTL = 10 * time.Minute

// Ledger is the persistence contract the dispatcher drives.
type Ledger interface {
	PendingByPoll(ctx context.Context, pollID uuid.UUID) ([]PendingItem, error)
	MarkQueueing(ctx context.Context, tokens []uuid.UUID) error
	MarkSending(ctx context.Context, token uuid.UUID) error
	MarkResult(ctx context.Context, token uuid.UUID, status models.DeliveryStatus, info models.DeliveryInfo) error
}

// Locker serializes dispatch runs per poll.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker is a SetNX-based Locker.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a Redis-backed dispatch lock.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// Acquire takes the lock if free.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release frees the lock.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// Dispatcher drives the entitlement ledger through the send pipeline:
// pending records are bulk-marked queueing, then processed one at a time
// through sending into success or error. It runs synchronously within the
// calling request; the lock keeps per-record status transitions strictly
// sequential when two admin requests race.
type Dispatcher struct {
	ledger    Ledger
	transport mailer.Transport
	locker    Locker
	baseURL   string
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. locker may be nil (tests, single-node
// setups without Redis).
func NewDispatcher(ledger Ledger, transport mailer.Transport, locker Locker, baseURL string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{ledger: ledger, transport: transport, locker: locker, baseURL: baseURL, logger: logger}
}

// Dispatch sends the bulletin link to every pending entitlement of the poll.
// Transport failures are recorded on the record and never abort the loop;
// re-dispatch is an explicit re-invocation, there is no automatic retry.
func (d *Dispatcher) Dispatch(ctx context.Context, poll *models.Poll) error {
	if d.locker != nil {
		key := "dispatch:poll:" + poll.ID.String()
		ok, err := d.locker.Acquire(ctx, key, lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDispatchInProgress
		}
		defer func() {
			if err := d.locker.Release(ctx, key); err != nil {
				d.logger.Warn("release dispatch lock", zap.Error(err))
			}
		}()
	}

	items, err := d.ledger.PendingByPoll(ctx, poll.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tokens := make([]uuid.UUID, len(items))
	for i, it := range items {
		tokens[i] = it.Token
	}
	if err := d.ledger.MarkQueueing(ctx, tokens); err != nil {
		return err
	}

	for _, it := range items {
		if err := d.ledger.MarkSending(ctx, it.Token); err != nil {
			return err
		}
		info := models.DeliveryInfo{Time: time.Now().Format(time.RFC3339)}
		status := models.DeliverySuccess
		if err := d.transport.Send(ctx, it.VoterEmail, subject(poll), body(poll, it.VoterName, d.baseURL, it.Token)); err != nil {
			status = models.DeliveryError
			info.Error = err.Error()
			d.logger.Warn("bulletin mail failed",
				zap.String("poll_id", poll.ID.String()),
				zap.String("to", it.VoterEmail),
				zap.Error(err))
		}
		if err := d.ledger.MarkResult(ctx, it.Token, status, info); err != nil {
			return err
		}
	}
	d.logger.Info("dispatch finished",
		zap.String("poll_id", poll.ID.String()),
		zap.Int("records", len(items)))
	return nil
}
