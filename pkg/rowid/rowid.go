// Package rowid generates 64-bit, roughly time-ordered row identifiers without
// any shared counter.
//
// # Layout
//
//	id = ((ms_since_custom_epoch * 64) + shard) * 512 + random[0,512)
//
// The high bits carry milliseconds since CustomEpoch, the next 6 bits the shard
// (up to 64 producers) and the low 9 bits a random tie-breaker. Two ids from the
// same shard in different milliseconds are strictly ordered by time; ids from the
// same shard in the same millisecond collide only when they draw the same suffix.
package rowid

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	// CustomEpoch is the reference instant (ms since Unix epoch) subtracted from the clock.
	CustomEpoch int64 = 1300000000000

	// MaxShards is the number of distinct shard values.
	MaxShards = 64

	shardBits  = 6
	randomBits = 9
	randomSpan = 1 << randomBits
)

// ErrShardOutOfRange is returned for shards outside [0, MaxShards).
var ErrShardOutOfRange = errors.New("rowid: shard out of range")

// NowMs returns the current time in milliseconds since the Unix epoch.
// Tests replace it to pin the clock.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator emits ids for a single shard. It holds no mutable state and is safe
// for concurrent use.
type Generator struct {
	shard int64
}

// NewGenerator returns a Generator for shard.
func NewGenerator(shard int) (*Generator, error) {
	if shard < 0 || shard >= MaxShards {
		return nil, fmt.Errorf("%w: %d", ErrShardOutOfRange, shard)
	}
	return &Generator{shard: int64(shard)}, nil
}

// Shard returns the generator's shard.
func (g *Generator) Shard() int { return int(g.shard) }

// Next returns a new id.
func (g *Generator) Next() int64 {
	ts := NowMs() - CustomEpoch
	ts = ts<<shardBits + g.shard
	return ts<<randomBits + rand.Int64N(randomSpan)
}

// New returns a new id for shard. It panics when shard is out of range.
func New(shard int) int64 {
	g, err := NewGenerator(shard)
	if err != nil {
		panic(err)
	}
	return g.Next()
}

// Timestamp decodes the wall-clock instant packed into id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli(id>>(shardBits+randomBits) + CustomEpoch)
}

// ShardOf decodes the shard packed into id.
func ShardOf(id int64) int {
	return int(id>>randomBits) & (MaxShards - 1)
}
