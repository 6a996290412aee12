package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-ledger/internal/domain/valueobject"
)

// StatusCache кэш выведенного статуса платежа. Пишется только после
// коммита перехода и сбрасывается на каждой записи в леджер.
type StatusCache interface {
	Get(ctx context.Context, paymentID uuid.UUID) (valueobject.PaymentStatus, bool)
	Set(ctx context.Context, paymentID uuid.UUID, status valueobject.PaymentStatus)
	Invalidate(ctx context.Context, paymentID uuid.UUID)
}

// StatusCacheKey ключ кэша статуса.
func StatusCacheKey(paymentID uuid.UUID) string {
	return "payment:" + paymentID.String() + ":status"
}

// CacheService in-memory кэш с TTL и инвалидацией.
type CacheService struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// NewCacheService создаёт кэш. Очистка просроченных записей идёт в фоне до отмены ctx.
func NewCacheService(ctx context.Context, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	cs := &CacheService{
		cache: make(map[string]*cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}

	go cs.cleanup(ctx, 5*time.Minute)

	return cs
}

var _ StatusCache = (*CacheService)(nil)

func (cs *CacheService) Get(_ context.Context, paymentID uuid.UUID) (valueobject.PaymentStatus, bool) {
	value, ok := cs.get(StatusCacheKey(paymentID))
	if !ok {
		return "", false
	}
	status, ok := value.(valueobject.PaymentStatus)
	return status, ok
}

func (cs *CacheService) Set(_ context.Context, paymentID uuid.UUID, status valueobject.PaymentStatus) {
	cs.set(StatusCacheKey(paymentID), status, cs.ttl)
}

func (cs *CacheService) Invalidate(_ context.Context, paymentID uuid.UUID) {
	cs.InvalidateByPrefix("payment:" + paymentID.String() + ":")
}

func (cs *CacheService) get(key string) (interface{}, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	entry, exists := cs.cache[key]
	if !exists {
		return nil, false
	}

	// Просроченные записи удаляет cleanup
	if cs.now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.data, true
}

func (cs *CacheService) set(key string, value interface{}, ttl time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.cache[key] = &cacheEntry{
		data:      value,
		expiresAt: cs.now().Add(ttl),
	}
}

// InvalidateByPrefix удаляет все ключи с префиксом.
func (cs *CacheService) InvalidateByPrefix(prefix string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for key := range cs.cache {
		if strings.HasPrefix(key, prefix) {
			delete(cs.cache, key)
		}
	}
}

func (cs *CacheService) cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.purgeExpired()
		}
	}
}

func (cs *CacheService) purgeExpired() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.now()
	for key, entry := range cs.cache {
		if now.After(entry.expiresAt) {
			delete(cs.cache, key)
		}
	}
}
