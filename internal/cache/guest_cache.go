package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/shiku-server/internal/auth"
	"github.com/annel0/shiku-server/internal/logging"
)

const guestKeyPrefix = "shiku:guest:"

// GuestCache — горячий кэш записей гостей поверх долговечного
// хранилища. Запись сквозная: Put сначала идёт в хранилище, затем
// в Redis. Промахи и отказы Redis деградируют до прямого чтения.
type GuestCache struct {
	inner auth.GuestRepository
	rdb   *redis.Client
	ttl   time.Duration
	log   *logging.Logger
}

// NewGuestCache оборачивает хранилище кэшем
func NewGuestCache(ctx context.Context, inner auth.GuestRepository, addr, password string, ttl time.Duration) (*GuestCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &GuestCache{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   logging.GetComponentLogger("cache"),
	}, nil
}

func (c *GuestCache) Get(ctx context.Context, providerUserID string) (*auth.GuestRecord, error) {
	key := guestKeyPrefix + providerUserID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var record auth.GuestRecord
		if jsonErr := json.Unmarshal(raw, &record); jsonErr == nil {
			return &record, nil
		}
		// Битое значение выбрасываем и идём в хранилище
		c.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("Redis get %s failed: %v", key, err)
	}

	record, err := c.inner.Get(ctx, providerUserID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, record)
	return record, nil
}

func (c *GuestCache) Put(ctx context.Context, record *auth.GuestRecord) error {
	if err := c.inner.Put(ctx, record); err != nil {
		return err
	}
	c.store(ctx, record)
	return nil
}

func (c *GuestCache) store(ctx context.Context, record *auth.GuestRecord) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, guestKeyPrefix+record.ProviderUserID, raw, c.ttl).Err(); err != nil {
		c.log.Warn("Redis set for %s failed: %v", record.ProviderUserID, err)
	}
}

// Invalidate выбрасывает запись из кэша (например, после правки
// флагов наблюдателя из внешнего инструмента)
func (c *GuestCache) Invalidate(ctx context.Context, providerUserID string) {
	c.rdb.Del(ctx, guestKeyPrefix+providerUserID)
}

func (c *GuestCache) Close(ctx context.Context) error {
	if err := c.rdb.Close(); err != nil {
		return err
	}
	return c.inner.Close(ctx)
}
