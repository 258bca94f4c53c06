package cache

import (
	"os"
	"runtime"
	"strconv"

	"github.com/facebookgo/stackerr"
	"github.com/slabcache/memcached/log"
)

// Config carries every knob spec.md §6 recognizes. Zero-value fields are
// filled in by sane defaults in New; callers normally build one with the
// With* options below.
type Config struct {
	// MaxBytes is the slab allocator's memory budget.
	MaxBytes int64
	// Factor is the slab growth factor (default 1.25).
	Factor float64
	// MinChunkSize/MaxChunkSize bound the slab class table.
	MinChunkSize int
	MaxChunkSize int
	// Prealloc carves the full budget at startup when true.
	Prealloc bool
	// UseCAS enables CAS issuance (adds 8 bytes per item accounting).
	UseCAS bool
	// EvictToFree disables eviction-driven allocation recovery when false;
	// allocation failures then return OutOfMemory immediately.
	EvictToFree bool
	// NumPartitions overrides the shard count; 0 means derive from
	// NumWorkerThreads (or the PARTITION_SIZE environment variable).
	NumPartitions int
	// NumWorkerThreads informs the default partition count
	// (max(1, NumWorkerThreads*4)) when NumPartitions is 0.
	NumWorkerThreads int
	// HashBulkMove is the number of buckets migrated per maintenance wake
	// during a hash-table expansion (default 1).
	HashBulkMove int

	// Logger receives resize/eviction/maintenance diagnostics. Defaults to
	// log.Nop.
	Logger log.Logger
}

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

func WithMaxBytes(n int64) Option          { return func(c *Config) { c.MaxBytes = n } }
func WithFactor(f float64) Option          { return func(c *Config) { c.Factor = f } }
func WithPrealloc(b bool) Option           { return func(c *Config) { c.Prealloc = b } }
func WithUseCAS(b bool) Option             { return func(c *Config) { c.UseCAS = b } }
func WithEvictToFree(b bool) Option        { return func(c *Config) { c.EvictToFree = b } }
func WithNumPartitions(n int) Option       { return func(c *Config) { c.NumPartitions = n } }
func WithNumWorkerThreads(n int) Option    { return func(c *Config) { c.NumWorkerThreads = n } }
func WithHashBulkMove(n int) Option        { return func(c *Config) { c.HashBulkMove = n } }
func WithMinChunkSize(n int) Option        { return func(c *Config) { c.MinChunkSize = n } }
func WithMaxChunkSize(n int) Option        { return func(c *Config) { c.MaxChunkSize = n } }
func WithLogger(l log.Logger) Option       { return func(c *Config) { c.Logger = l } }

// NewConfig builds a Config with defaults applied, then options, then the
// PARTITION_SIZE environment override (spec.md §6).
func NewConfig(opts ...Option) (Config, error) {
	c := Config{
		MaxBytes:         64 * 1024 * 1024,
		Factor:           1.25,
		MinChunkSize:     80,
		MaxChunkSize:     1024 * 1024,
		UseCAS:           true,
		EvictToFree:      true,
		NumWorkerThreads: runtime.NumCPU(),
		HashBulkMove:     1,
		Logger:           log.Nop,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if v := os.Getenv("PARTITION_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, stackerr.Newf("invalid PARTITION_SIZE %q: %v", v, err)
		}
		c.NumPartitions = n
	}

	if c.NumPartitions <= 0 {
		c.NumPartitions = c.NumWorkerThreads * 4
	}
	if c.NumPartitions < 1 {
		c.NumPartitions = 1
	}
	if c.Factor <= 1.0 {
		return Config{}, stackerr.Newf("factor must be > 1.0, got %v", c.Factor)
	}
	return c, nil
}
