package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/events"
)

// EventFunc receives either a decoded event or a transport error, never both.
type EventFunc func(raw events.RawEvent, err error)

// Source opens event subscriptions for one contract.
type Source interface {
	Subscribe(ctx context.Context, origin Origin, onEvent EventFunc) (Handle, error)
}

// Handle is a live subscription.
type Handle interface {
	// Close stops delivery and releases the connection. Safe to call more than once.
	Close()
	// Done is closed once no further events will be delivered.
	Done() <-chan struct{}
	// Err returns the error that ended the subscription, or nil if it was closed.
	Err() error
}

// logClient is the part of ethclient.Client used by EthSource.
type logClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (logClient, error)

func dialEth(ctx context.Context, url string) (logClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// logBuffer bounds live logs queued while a backfill is running.
const logBuffer = 256

// EthSource subscribes to contract logs over a websocket JSON-RPC endpoint.
type EthSource struct {
	url      string
	contract *Contract
	logger   *zap.Logger
	dial     dialFunc
}

func NewEthSource(url string, contract *Contract, logger *zap.Logger) *EthSource {
	return &EthSource{url: url, contract: contract, logger: logger, dial: dialEth}
}

var _ Source = (*EthSource)(nil)

// Subscribe dials the endpoint and subscribes to every log of the contract.
// For historical origins the live subscription is opened first, the range
// [from, head] is then backfilled and live logs at or below head are dropped,
// so nothing is missed or delivered twice across the boundary.
func (s *EthSource) Subscribe(ctx context.Context, origin Origin, onEvent EventFunc) (Handle, error) {
	client, err := s.dial(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	query := ethereum.FilterQuery{Addresses: []common.Address{s.contract.Address}}
	logs := make(chan types.Log, logBuffer)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe to %s logs: %w", s.contract.Address.Hex(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &ethHandle{
		client: client,
		sub:    sub,
		cancel: cancel,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	from, historical := origin.FromBlock()
	var head uint64
	if historical {
		head, err = client.BlockNumber(ctx)
		if err != nil {
			h.release()
			return nil, fmt.Errorf("read chain head: %w", err)
		}
	}

	s.logger.Info("Subscribed to contract events",
		zap.String("contract", s.contract.Name),
		zap.String("address", s.contract.Address.Hex()),
		zap.Stringer("origin", origin),
		zap.Uint64("head", head))

	go func() {
		defer close(h.done)
		defer h.release()
		if historical {
			s.backfill(runCtx, client, query, from, head, onEvent)
		}
		h.receive(logs, historical, head, func(l types.Log) { s.deliver(l, onEvent) }, onEvent)
	}()
	return h, nil
}

func (s *EthSource) backfill(ctx context.Context, client logClient, query ethereum.FilterQuery, from, head uint64, onEvent EventFunc) {
	if from > head {
		return
	}
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(head)

	past, err := client.FilterLogs(ctx, query)
	if err != nil {
		if ctx.Err() == nil {
			onEvent(events.RawEvent{}, fmt.Errorf("backfill blocks %d-%d: %w", from, head, err))
		}
		return
	}
	s.logger.Info("Backfilling contract events",
		zap.Uint64("from", from),
		zap.Uint64("to", head),
		zap.Int("logs", len(past)))
	for _, l := range past {
		if ctx.Err() != nil {
			return
		}
		s.deliver(l, onEvent)
	}
}

func (s *EthSource) deliver(l types.Log, onEvent EventFunc) {
	if l.Removed {
		onEvent(events.RawEvent{}, fmt.Errorf("%w: tx %s index %d", ErrRemovedLog, l.TxHash.Hex(), l.Index))
		return
	}
	raw, err := s.contract.Decode(l)
	switch {
	case errors.Is(err, ErrMalformedLog):
		s.logger.Warn("Passing through undecodable event",
			zap.String("eventName", raw.Name),
			zap.String("transaction", raw.TransactionHash),
			zap.Uint("logIndex", l.Index),
			zap.Error(err))
	case err != nil:
		onEvent(events.RawEvent{}, fmt.Errorf("decode log %s/%d: %w", l.TxHash.Hex(), l.Index, err))
		return
	}
	onEvent(raw, nil)
}

type ethHandle struct {
	client logClient
	sub    ethereum.Subscription
	cancel context.CancelFunc

	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func (h *ethHandle) receive(logs <-chan types.Log, historical bool, head uint64, deliver func(types.Log), onEvent EventFunc) {
	for {
		select {
		case <-h.quit:
			return
		case err := <-h.sub.Err():
			if err == nil {
				return
			}
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			onEvent(events.RawEvent{}, fmt.Errorf("subscription ended: %w", err))
			return
		case l := <-logs:
			if historical && l.BlockNumber <= head {
				continue
			}
			select {
			case <-h.quit:
				return
			default:
			}
			deliver(l)
		}
	}
}

func (h *ethHandle) release() {
	h.stopOnce.Do(func() {
		h.cancel()
		h.sub.Unsubscribe()
		h.client.Close()
	})
}

// Close stops delivery and waits for the receive loop to exit. It must not be
// called from inside the EventFunc.
func (h *ethHandle) Close() {
	h.quitOnce.Do(func() { close(h.quit) })
	h.release()
	<-h.done
}

func (h *ethHandle) Done() <-chan struct{} { return h.done }

func (h *ethHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
