package ebtree

import "github.com/rs/zerolog"

// DurabilityMode controls how aggressively Txn.Commit flushes to durable
// storage (§4.6, §5).
type DurabilityMode int

const (
	// FullSync fsyncs both after writing dirty data pages and after
	// writing the new meta page — the safest and slowest mode.
	FullSync DurabilityMode = iota
	// NoMetaSync fsyncs after data pages but not after the meta page.
	NoMetaSync
	// NoSync never fsyncs; durability is left entirely to the OS page
	// cache flush schedule.
	NoSync
)

// Config configures an Env at Open time. It is a plain struct, not a
// functional-options builder: the engine is an embedded library, and its
// host already owns configuration loading (§1).
type Config struct {
	// PageSize is the fixed page size in bytes, a power of two between
	// MinPageSize and MaxPageSize. Zero selects DefaultPageSize.
	PageSize uint32

	// MapSize bounds how large the backing file may grow, in bytes. Zero
	// selects a conservative default suitable for tests.
	MapSize int64

	MaxDBs      int
	MaxReaders  int
	MaxTxnPages int

	MaxKeySize   int
	MaxValueSize int

	Durability   DurabilityMode
	ChecksumMode ChecksumMode

	// UseSegregatedFreelist enables size-class bucketed free page reuse,
	// trading a larger in-memory index for fewer allocator fallbacks to
	// the bump cursor when overflow runs are freed and reallocated (§9
	// Open Question, default off).
	UseSegregatedFreelist bool

	// Logger receives structured diagnostics; nil selects zerolog.Nop().
	Logger *zerolog.Logger

	// Registerer receives the engine's Prometheus collectors; nil selects
	// a private, unexposed registry.
	Registerer prometheusRegisterer
}

// defaultMapSize is deliberately small: callers running a real workload are
// expected to set MapSize explicitly.
const defaultMapSize = int64(64) << 20 // 64 MiB

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MapSize == 0 {
		c.MapSize = defaultMapSize
	}
	if c.MaxDBs == 0 {
		c.MaxDBs = DefaultMaxDBs
	}
	if c.MaxReaders == 0 {
		c.MaxReaders = DefaultMaxReaders
	}
	if c.MaxTxnPages == 0 {
		c.MaxTxnPages = DefaultMaxTxnPages
	}
	if c.MaxKeySize == 0 {
		c.MaxKeySize = DefaultMaxKeySize
	}
	if c.MaxValueSize == 0 {
		c.MaxValueSize = DefaultMaxValue
	}
	return c
}

func (c Config) validate() error {
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize || c.PageSize&(c.PageSize-1) != 0 {
		return invalidParam("page size must be a power of two between MinPageSize and MaxPageSize")
	}
	if c.MapSize < int64(c.PageSize)*int64(firstDataPgno+1) {
		return invalidParam("map size too small to hold the meta pages and a root page")
	}
	if c.MaxDBs <= 0 || c.MaxReaders <= 0 || c.MaxTxnPages <= 0 {
		return invalidParam("MaxDBs, MaxReaders and MaxTxnPages must be positive")
	}
	return nil
}
