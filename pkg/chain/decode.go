package chain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/truly-network/eventlistener/pkg/events"
)

var (
	ErrAnonymousLog = errors.New("log has no topics")
	ErrUnknownEvent = errors.New("log does not match any contract event")
	ErrRemovedLog   = errors.New("log removed by chain reorganisation")
	// ErrMalformedLog accompanies a usable RawEvent whose arguments could not
	// be decoded. The payload then holds the raw log data as 0x hex.
	ErrMalformedLog = errors.New("log arguments do not match the event ABI")
)

// SubjectArgs are the event argument names that identify the subject token,
// checked in order.
var SubjectArgs = []string{"token", "tokenId", "_tokenId"}

// Decode turns a contract log into a RawEvent. Indexed and non-indexed
// arguments are merged into one map, JSON-encoded as the payload.
//
// Once the event is known a RawEvent is always returned. If its arguments do
// not decode, the error wraps ErrMalformedLog and the event carries the raw
// data as payload, plus whatever subject the decodable arguments name.
func (c *Contract) Decode(log types.Log) (events.RawEvent, error) {
	if len(log.Topics) == 0 {
		return events.RawEvent{}, ErrAnonymousLog
	}
	ev, err := c.ABI.EventByID(log.Topics[0])
	if err != nil {
		return events.RawEvent{}, fmt.Errorf("%w: topic %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	raw := events.RawEvent{
		Name:            ev.Name,
		TransactionHash: log.TxHash.Hex(),
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	topicArgs := make(map[string]any, len(indexed))
	topicErr := abi.ParseTopicsIntoMap(topicArgs, indexed, log.Topics[1:])
	dataArgs := make(map[string]any, len(ev.Inputs))
	dataErr := ev.Inputs.NonIndexed().UnpackIntoMap(dataArgs, log.Data)

	values := make(map[string]any, len(ev.Inputs))
	if topicErr == nil {
		for k, v := range topicArgs {
			values[k] = jsonValue(v)
		}
	}
	if dataErr == nil {
		for k, v := range dataArgs {
			values[k] = jsonValue(v)
		}
	}
	raw.SubjectID = subjectOf(values)

	if err := errors.Join(topicErr, dataErr); err != nil {
		raw.Payload = "0x" + hex.EncodeToString(log.Data)
		return raw, fmt.Errorf("%w: %s: %w", ErrMalformedLog, ev.Name, err)
	}

	payload, err := json.Marshal(values)
	if err != nil {
		raw.Payload = "0x" + hex.EncodeToString(log.Data)
		return raw, fmt.Errorf("%w: encode %s arguments: %w", ErrMalformedLog, ev.Name, err)
	}
	raw.Payload = string(payload)
	return raw, nil
}

func subjectOf(values map[string]any) string {
	for _, name := range SubjectArgs {
		if v, ok := values[name]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// jsonValue renders ABI values the way web3 clients do: integers as decimal
// strings, addresses and byte arrays as 0x hex.
func jsonValue(v any) any {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case []byte:
		return "0x" + hex.EncodeToString(x)
	case [32]byte:
		return "0x" + hex.EncodeToString(x[:])
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprint(x)
	default:
		return v
	}
}
