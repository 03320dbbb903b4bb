package kura

type cacheConfig struct {
	bus *EventBus
}

// CacheOption configures a SwappableCache.
type CacheOption func(*cacheConfig)

// WithCacheEvents publishes CacheReloaded and CacheReloadFailed on bus.
func WithCacheEvents(bus *EventBus) CacheOption {
	return func(c *cacheConfig) { c.bus = bus }
}

type registryConfig struct {
	bus      *EventBus
	capacity int
}

// RegistryOption configures an ObjectTableRegistry.
type RegistryOption func(*registryConfig)

// WithRegistryEvents publishes ObjectLinked, ObjectRemoved and CleanupDrained
// on bus.
func WithRegistryEvents(bus *EventBus) RegistryOption {
	return func(c *registryConfig) { c.bus = bus }
}

// WithArenaCapacity preallocates room for n entries.
func WithArenaCapacity(n int) RegistryOption {
	return func(c *registryConfig) { c.capacity = n }
}
