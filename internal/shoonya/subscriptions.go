package shoonya

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quantrail/shoonya-stream/internal/observability"
)

const (
	// Keep subscribe payloads modest so frames stay small and pacing can kick
	// in between them when the key count is large.
	maxKeysPerFrame = 100
	// Control frames (subscribe/unsubscribe) per second allowed on the wire.
	controlFramesPerSecond = 4
)

// Sender is the transport capability the tracker needs.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// SubscriptionTracker maintains the set of currently subscribed instrument
// keys ("<exchange>|<token>") and replays it after every reconnect. During a
// disconnect window the tracked set records intent; Resubscribe restores the
// vendor-side view.
type SubscriptionTracker struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	sender  Sender
	limiter *rate.Limiter
}

// NewSubscriptionTracker creates a tracker that sends control frames through
// the given sender.
func NewSubscriptionTracker(sender Sender) *SubscriptionTracker {
	return &SubscriptionTracker{
		mu:      sync.Mutex{},
		keys:    make(map[string]struct{}),
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(controlFramesPerSecond), 1),
	}
}

// Subscribe unions the keys into the tracked set and issues a subscribe frame
// for the ones not already tracked. The set is updated even when the send
// fails; the reconnect replay restores vendor-side state.
func (s *SubscriptionTracker) Subscribe(ctx context.Context, keys []string) error {
	s.mu.Lock()
	added := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, exists := s.keys[key]; !exists {
			s.keys[key] = struct{}{}
			added = append(added, key)
		}
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	observability.Log().Info("subscribing", observability.F("keys", added))
	return s.sendChunks(ctx, EncodeSubscribe, added)
}

// Unsubscribe removes the keys from the tracked set and issues an unsubscribe
// frame for the ones that were tracked.
func (s *SubscriptionTracker) Unsubscribe(ctx context.Context, keys []string) error {
	s.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, exists := s.keys[key]; exists {
			delete(s.keys, key)
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	observability.Log().Info("unsubscribing", observability.F("keys", removed))
	return s.sendChunks(ctx, EncodeUnsubscribe, removed)
}

// Resubscribe re-issues a subscribe frame for the entire tracked set. Called
// after each successful reconnect handshake.
func (s *SubscriptionTracker) Resubscribe(ctx context.Context) error {
	keys := s.Snapshot()
	if len(keys) == 0 {
		return nil
	}
	observability.Log().Info("resubscribing after reconnect", observability.F("count", len(keys)))
	return s.sendChunks(ctx, EncodeSubscribe, keys)
}

// Snapshot returns the tracked keys in sorted order.
func (s *SubscriptionTracker) Snapshot() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (s *SubscriptionTracker) sendChunks(ctx context.Context, encode func([]string) ([]byte, error), keys []string) error {
	for start := 0; start < len(keys); start += maxKeysPerFrame {
		end := start + maxKeysPerFrame
		if end > len(keys) {
			end = len(keys)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace control frame: %w", err)
		}
		frame, err := encode(keys[start:end])
		if err != nil {
			return err
		}
		if err := s.sender.Send(ctx, frame); err != nil {
			return fmt.Errorf("send control frame: %w", err)
		}
	}
	return nil
}
