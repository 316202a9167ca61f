package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/serenispa/reservation-engine/internal/metrics"
)

// Cache is a short-TTL cache of derived daily slots keyed by
// therapist+date. It is local and ephemeral, never authoritative: the
// write path invalidates the touched keys synchronously, and on any
// ambiguity between cache and store, the store wins.
type Cache struct {
	store *gocache.Cache
	ttl   time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		store: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func cacheKey(therapistID uuid.UUID, date string) string {
	return fmt.Sprintf("slots:%s:%s", therapistID, date)
}

// Get returns cached slots for a therapist and civil date ("2006-01-02"
// in the shop's timezone).
func (c *Cache) Get(therapistID uuid.UUID, date string) ([]Slot, bool) {
	v, ok := c.store.Get(cacheKey(therapistID, date))
	if !ok {
		metrics.IncCacheMiss()
		return nil, false
	}
	metrics.IncCacheHit()
	return v.([]Slot), true
}

func (c *Cache) Set(therapistID uuid.UUID, date string, slots []Slot) {
	c.store.Set(cacheKey(therapistID, date), slots, c.ttl)
}

// Invalidate drops cached slots for every civil date the instant could
// fall on. The writer does not know which timezone the cached key was
// built in, so all dates the instant can map to across UTC offsets
// (-12h..+14h) are dropped: the UTC date and both neighbors.
func (c *Cache) Invalidate(therapistID uuid.UUID, at time.Time) {
	utc := at.In(time.UTC)
	for _, d := range []time.Time{utc.AddDate(0, 0, -1), utc, utc.AddDate(0, 0, 1)} {
		c.store.Delete(cacheKey(therapistID, d.Format("2006-01-02")))
	}
}
