package asset

import "time"

// Configuration defines the asset engine settings
type Configuration struct {
	// CacheDirectory is where fetched assets are cached on disk. When
	// empty the cache stays closed until OpenCache is called and fetched
	// assets live in memory only.
	CacheDirectory string `yaml:"cacheDirectory"`

	// CacheMaxAge is how long a cache entry can short-circuit fetching.
	// Zero keeps entries fresh forever.
	CacheMaxAge time.Duration `yaml:"cacheMaxAge"`

	// CacheMaxSize caps the total size of the cache in bytes, oldest
	// entries are evicted first. Zero means unbounded.
	CacheMaxSize int64 `yaml:"cacheMaxSize"`

	// HousekeepingInterval is the accumulated Update time between two
	// cache eviction passes.
	HousekeepingInterval time.Duration `yaml:"housekeepingInterval"`

	// MaxConcurrentTransfers bounds the transfers in the Fetching state.
	// Zero means unbounded.
	MaxConcurrentTransfers int `yaml:"maxConcurrentTransfers"`

	// FailureBackoff is the initial interval during which requests for a
	// ref that just failed fail right away. The interval grows
	// exponentially with every consecutive failure. Zero disables it.
	FailureBackoff time.Duration `yaml:"failureBackoff"`

	// Storages lists storage descriptors added on start.
	Storages []string `yaml:"storages"`

	// DefaultStorage names the storage used for bare relative refs.
	DefaultStorage string `yaml:"defaultStorage"`
}

// DefaultConfiguration returns the settings used when nothing is
// configured.
func DefaultConfiguration() Configuration {
	return Configuration{
		HousekeepingInterval: 30 * time.Second,
	}
}

// Clock supplies the current time to the engine.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
