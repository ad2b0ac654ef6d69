package engine

import (
	"sync"

	"hyperliquid-copy-bot/internal/hyperliquid"
)

// TickerMeta is the cached per-instrument metadata. Immutable per symbol for
// the process lifetime.
type TickerMeta struct {
	Symbol       string
	AssetIndex   int
	SzDecimals   int
	MaxLeverage  int
	OnlyIsolated bool
}

// MetadataCache maps instrument symbol to its metadata. Populated lazily on
// the first successful scan and never invalidated. A miss is a hard skip
// signal for the scanner.
type MetadataCache struct {
	mu      sync.RWMutex
	entries map[string]TickerMeta
}

// NewMetadataCache creates an empty cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: make(map[string]TickerMeta)}
}

// Empty reports whether the cache has been populated yet.
func (c *MetadataCache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) == 0
}

// Populate fills the cache from the venue universe. The asset index of an
// instrument is its position in the universe array.
func (c *MetadataCache) Populate(meta *hyperliquid.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, asset := range meta.Universe {
		if _, exists := c.entries[asset.Name]; exists {
			continue
		}
		c.entries[asset.Name] = TickerMeta{
			Symbol:       asset.Name,
			AssetIndex:   i,
			SzDecimals:   asset.SzDecimals,
			MaxLeverage:  asset.MaxLeverage,
			OnlyIsolated: asset.OnlyIsolated,
		}
	}
}

// Get returns the metadata for a symbol. Readers must treat a miss as "skip
// this symbol".
func (c *MetadataCache) Get(symbol string) (TickerMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[symbol]
	return meta, ok
}
