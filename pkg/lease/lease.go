// Package lease provides the redis-backed coordination primitives shared by
// the sync triggers: a per-connection mutual-exclusion lease and the push
// notification history cursor. Both must survive across invocations because
// every handler is stateless between triggers.
package lease

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this holder's token is still in it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Store struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		tokens: make(map[string]string),
	}
}

// Acquire takes the sync lease for a connection. Returns false when another
// run already holds it; callers skip, they never queue. The TTL bounds the
// damage of a crashed run: the lease self-releases when it lapses.
func (s *Store) Acquire(ctx context.Context, connectionID string, ttl time.Duration) (bool, error) {
	key := leaseKey(connectionID)
	token := strconv.FormatInt(time.Now().UnixNano(), 10)
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	if ok {
		s.mu.Lock()
		s.tokens[connectionID] = token
		s.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lease at the end of a run. Compare-and-delete: when the
// TTL lapsed mid-run and a successor took over, this run's token no longer
// matches and the successor's lease is left alone.
func (s *Store) Release(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	token, held := s.tokens[connectionID]
	delete(s.tokens, connectionID)
	s.mu.Unlock()
	if !held {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{leaseKey(connectionID)}, token).Err()
}

// SeenHistoryID records the given push history cursor for a mailbox and
// reports whether it was already at or behind the stored one. Providers
// redeliver notifications aggressively; this keeps redundant syncs off the
// provider API.
func (s *Store) SeenHistoryID(ctx context.Context, mailbox string, historyID uint64) (bool, error) {
	key := historyKey(mailbox)

	prev, err := s.client.Get(ctx, key).Uint64()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("read history cursor: %w", err)
	}
	if err == nil && historyID <= prev {
		return true, nil
	}

	if err := s.client.Set(ctx, key, historyID, 24*time.Hour).Err(); err != nil {
		return false, fmt.Errorf("store history cursor: %w", err)
	}
	return false, nil
}

func leaseKey(connectionID string) string {
	return "sync:lease:" + connectionID
}

func historyKey(mailbox string) string {
	return "push:history:" + mailbox
}
