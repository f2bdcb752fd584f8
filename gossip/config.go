package gossip

import "time"

// Config is the sharded gossip configuration.
type Config struct {
	// RoundTimeout bounds both an unanswered initiate and an idle round.
	RoundTimeout time.Duration `mapstructure:"round-timeout"`
	// RecentWindow is how far back recent gossip reaches for op hashes.
	RecentWindow time.Duration `mapstructure:"recent-window"`
	// BatchLimit caps the op hashes pulled into one bloom batch. A query
	// that hits the cap returns a cursor and the batch continues once
	// the remote has answered the outstanding blooms.
	BatchLimit int `mapstructure:"batch-limit"`
	// BloomFalsePositiveRate sizes the op and agent bloom filters.
	BloomFalsePositiveRate float64 `mapstructure:"bloom-false-positive-rate"`
	// TombstoneSize bounds the cache of recently finished rounds used to
	// drop late messages without treating them as protocol errors.
	TombstoneSize int `mapstructure:"tombstone-size"`
}

// DefaultConfig returns the default configuration for sharded gossip.
func DefaultConfig() Config {
	return Config{
		RoundTimeout:           time.Minute,
		RecentWindow:           time.Hour,
		BatchLimit:             8192,
		BloomFalsePositiveRate: 0.01,
		TombstoneSize:          512,
	}
}
