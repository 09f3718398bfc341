package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// Origin is the block a subscription starts delivering events from.
// The zero value is OriginLatest: only events from new blocks.
type Origin struct {
	historical bool
	block      uint64
}

var (
	OriginLatest  = Origin{}
	OriginGenesis = Origin{historical: true}
)

// OriginBlock starts delivery at block n, backfilling everything since.
func OriginBlock(n uint64) Origin { return Origin{historical: true, block: n} }

// FromBlock returns the first historical block, or false for OriginLatest.
func (o Origin) FromBlock() (uint64, bool) { return o.block, o.historical }

func (o Origin) String() string {
	switch {
	case !o.historical:
		return "latest"
	case o.block == 0:
		return "genesis"
	default:
		return strconv.FormatUint(o.block, 10)
	}
}

// ParseOrigin accepts "latest" (or empty), "genesis", "first", or a block number.
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return OriginLatest, nil
	case "genesis", "first", "earliest":
		return OriginGenesis, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return Origin{}, fmt.Errorf("invalid event origin %q", s)
	}
	return OriginBlock(n), nil
}
