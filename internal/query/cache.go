package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/models"
)

const defaultDetailTTL = time.Hour

// Cache stores decided transfer details in Redis. The cache is strictly an
// optimization: every method degrades to a no-op when Redis is absent or
// failing, and callers re-apply authorization on every hit.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewCache wraps a Redis client. A nil client disables caching.
func NewCache(rdb *redis.Client, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: defaultDetailTTL, log: log}
}

func detailKey(transferID int64) string {
	return fmt.Sprintf("transfer:detail:%d", transferID)
}

func (c *Cache) GetDetail(ctx context.Context, transferID int64) (*models.TransferDetail, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, detailKey(transferID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache read failed", zap.Int64("transfer_id", transferID), zap.Error(err))
		}
		return nil, false
	}
	var cached cachedDetail
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.log.Warn("cache entry corrupt", zap.Int64("transfer_id", transferID), zap.Error(err))
		return nil, false
	}
	return cached.toModel(), true
}

func (c *Cache) SetDetail(ctx context.Context, d *models.TransferDetail) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(newCachedDetail(d))
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, detailKey(d.ID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.Int64("transfer_id", d.ID), zap.Error(err))
	}
}

// cachedDetail is the storage form of a TransferDetail. The model hides its
// ownership and id fields from JSON, so the cache carries them explicitly.
type cachedDetail struct {
	models.TransferDetail
	CachedTypeID     int32 `json:"type_id"`
	CachedStatusID   int32 `json:"status_id"`
	CachedFromUserID int64 `json:"from_user_id"`
	CachedToUserID   int64 `json:"to_user_id"`
}

func newCachedDetail(d *models.TransferDetail) cachedDetail {
	return cachedDetail{
		TransferDetail:   *d,
		CachedTypeID:     d.TypeID,
		CachedStatusID:   d.StatusID,
		CachedFromUserID: d.FromUserID,
		CachedToUserID:   d.ToUserID,
	}
}

func (c cachedDetail) toModel() *models.TransferDetail {
	d := c.TransferDetail
	d.TypeID = c.CachedTypeID
	d.StatusID = c.CachedStatusID
	d.FromUserID = c.CachedFromUserID
	d.ToUserID = c.CachedToUserID
	return &d
}
