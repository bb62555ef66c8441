package geo

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps client IPs to ISO country codes for event enrichment.
// Lookups are cached with a TTL; a full cache evicts expired entries
// first and otherwise drops the incoming entry rather than growing.
type Resolver struct {
	reader   *geoip2.Reader
	cacheTTL time.Duration
	maxSize  int

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	country string
	expires time.Time
}

// NewResolver opens the MaxMind database at dbPath.
func NewResolver(dbPath string, cacheSize int, cacheTTL time.Duration) (*Resolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	if cacheSize < 1 {
		cacheSize = 1000
	}

	return &Resolver{
		reader:   reader,
		cacheTTL: cacheTTL,
		maxSize:  cacheSize,
		cache:    make(map[string]cacheEntry),
	}, nil
}

// Country returns the ISO country code for ip, or "" when the IP is
// invalid or unknown. It never returns an error a caller would need to
// act on: enrichment is best-effort and must not block ingestion.
func (r *Resolver) Country(ip string) string {
	if ip == "" {
		return ""
	}

	r.mu.RLock()
	entry, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.country
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := r.reader.Country(parsed)
	if err != nil {
		return ""
	}
	country := record.Country.IsoCode

	r.mu.Lock()
	if len(r.cache) >= r.maxSize {
		now := time.Now()
		for k, v := range r.cache {
			if now.After(v.expires) {
				delete(r.cache, k)
			}
		}
	}
	if len(r.cache) < r.maxSize {
		r.cache[ip] = cacheEntry{country: country, expires: time.Now().Add(r.cacheTTL)}
	}
	r.mu.Unlock()

	return country
}

// Close closes the GeoIP database.
func (r *Resolver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
