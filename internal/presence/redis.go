package presence

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "chatrelay:presence:"
	queueSize    = 1024
	opTimeout    = 3 * time.Second
	closeTimeout = 5 * time.Second
)

// Key returns the Redis set holding the connection ids of a user.
func Key(userID string) string { return keyPrefix + userID }

// RedisConfig configures a Redis tracker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type op struct {
	online bool
	user   string
	conn   string
}

// Redis keeps one set per user whose members are the user's connection ids.
// Each write renews the set's expiry, so entries left behind by a crashed
// process disappear after TTL.
type Redis struct {
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.Logger
	queue chan op

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedis connects to Redis, verifies the connection and starts the writer.
func NewRedis(ctx context.Context, cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	r := &Redis{
		rdb:   rdb,
		ttl:   ttl,
		log:   log.Named("presence"),
		queue: make(chan op, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Online queues a presence record for the connection. The record is dropped
// with a warning if the queue is full.
func (r *Redis) Online(userID, connID string) {
	r.push(op{online: true, user: userID, conn: connID})
}

// Offline queues removal of the connection from the user's presence set.
func (r *Redis) Offline(userID, connID string) {
	r.push(op{online: false, user: userID, conn: connID})
}

func (r *Redis) push(o op) {
	select {
	case r.queue <- o:
	default:
		r.log.Warn("presence queue full; dropping update",
			zap.String("user", o.user), zap.String("conn", o.conn), zap.Bool("online", o.online))
	}
}

// Lookup reports whether the user has at least one live connection anywhere.
func (r *Redis) Lookup(ctx context.Context, userID string) (bool, error) {
	n, err := r.rdb.SCard(ctx, Key(userID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "lookup presence of %s", userID)
	}
	return n > 0, nil
}

// Close stops the writer after it drains queued updates and closes the client.
// Online and Offline must not be called after Close.
func (r *Redis) Close() error {
	r.closeOnce.Do(func() { close(r.queue) })
	select {
	case <-r.done:
	case <-time.After(closeTimeout):
		r.log.Warn("presence writer did not drain before timeout")
	}
	return r.rdb.Close()
}

func (r *Redis) run() {
	defer close(r.done)
	for o := range r.queue {
		if err := r.apply(o); err != nil {
			r.log.Warn("presence update failed",
				zap.String("user", o.user), zap.String("conn", o.conn), zap.Error(err))
		}
	}
}

func (r *Redis) apply(o op) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := Key(o.user)
	if !o.online {
		return r.rdb.SRem(ctx, key, o.conn).Err()
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, o.conn)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}
