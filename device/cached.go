package device

import (
	"context"
	"time"

	"github.com/ImprolabFIT/wrpserver/cacher"
	"github.com/ImprolabFIT/wrpserver/camera"
)

const listingKey = "camera-list"

// CachedDirectory serves ListXML from a cache so bursts of GET_CAMERA_LIST
// requests render the document once per TTL. Lookups go straight to the
// wrapped directory.
type CachedDirectory struct {
	next  Directory
	cache cacher.Cacher[string]
	ttl   time.Duration
}

// NewCachedDirectory wraps next with cache.
//
// Parameters:
//   - next: The directory producing listings and lookups
//   - cache: Backend holding the rendered listing
//   - ttl: Lifetime of a cached listing; 0 disables caching
//
// Returns:
//   - A Directory backed by cache
func NewCachedDirectory(next Directory, cache cacher.Cacher[string], ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, cache: cache, ttl: ttl}
}

// ListXML implements Directory.
func (d *CachedDirectory) ListXML(ctx context.Context) (string, error) {
	return d.cache.GetOrFetch(ctx, listingKey, d.ttl, d.next.ListXML)
}

// FindBySerial implements Directory.
func (d *CachedDirectory) FindBySerial(serial string) (camera.Capability, bool) {
	return d.next.FindBySerial(serial)
}

// Invalidate drops the cached listing.
func (d *CachedDirectory) Invalidate(ctx context.Context) error {
	return d.cache.Invalidate(ctx, listingKey)
}
