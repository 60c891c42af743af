package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/brianchuang/agent-sub000/workflow"
)

// Action is the user-supplied side-effect function the adapter layer
// wraps: execute(action, tenant, credentials) -> {ok|error} in spec.md's
// terms. RequestID and StepNumber are engine bookkeeping carried
// alongside Payload so the Idempotent decorator can compose the
// fingerprint described in spec.md §4.4 without that bookkeeping
// contaminating the payload hash itself.
type Action struct {
	Name        string
	TenantID    string
	WorkspaceID string
	RequestID   string
	StepNumber  int
	Payload     map[string]any
	Credentials Credentials
}

// Credentials is resolved by a CredentialsResolver and scope-checked
// before an Action executes.
type Credentials struct {
	TenantID    string
	WorkspaceID string
	Value       map[string]any
}

// CredentialsResolver resolves credentials for an action. A resolver
// returning credentials with a mismatched (tenantId, workspaceId) is a
// hard validation error (spec.md §4.4).
type CredentialsResolver func(ctx context.Context, a Action) (Credentials, error)

// Result is what an Action execution returns.
type Result struct {
	OK      bool
	Output  map[string]any
	Error   string
	Code    string
	Retryable bool
}

// Execute is the function signature the decorators wrap.
type Execute func(ctx context.Context, a Action) (Result, error)

// CheckCredentials validates a resolved Credentials against the action's
// scope.
func CheckCredentials(a Action, creds Credentials) error {
	if creds.TenantID != a.TenantID || creds.WorkspaceID != a.WorkspaceID {
		return fmt.Errorf("%w: credentials scope %s/%s does not match action scope %s/%s",
			workflow.ErrValidation, creds.TenantID, creds.WorkspaceID, a.TenantID, a.WorkspaceID)
	}
	return nil
}

// idempotencyCache is the interface the Idempotent decorator depends on;
// this package provides an in-memory implementation (MemoryCache,
// grounded on runtime/registry/cache.go's MemoryCache) and a Redis-backed
// implementation (RedisCache) for cross-process durability.
type idempotencyCache interface {
	Get(ctx context.Context, key string) (*cachedResult, bool, error)
	Put(ctx context.Context, key string, entry cachedResult) error
}

type cachedResult struct {
	Fingerprint Fingerprint
	Result      Result
}

// inflight deduplicates concurrent calls for the same key to a single
// underlying execution, mirroring runtime/registry/cache.go's
// cooldown-tracked refresh map but applied to in-flight suppression
// instead of TTL refresh.
type inflight struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result Result
	err    error
}

func newInflight() *inflight {
	return &inflight{calls: make(map[string]*inflightCall)}
}

// Do executes fn at most once per key among concurrent callers sharing
// that key; all callers receive the same result.
func (g *inflight) Do(key string, fn func() (Result, error)) (Result, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.result, c.err
	}
	c := &inflightCall{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.result, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return c.result, c.err
}

// Idempotent wraps next with the fingerprint-keyed cache described in
// spec.md §4.4: a cache hit returns the stored result verbatim without
// invoking next; concurrent calls with the same key deduplicate to one
// in-flight execution; a collision with a mismatched fingerprint under
// the same composed key is a hard validation error.
func Idempotent(next Execute, cache idempotencyCache) Execute {
	g := newInflight()
	return func(ctx context.Context, a Action) (Result, error) {
		fp, err := NewFingerprint(a.TenantID, a.RequestID, a.StepNumber, a.Name, a.Payload)
		if err != nil {
			return Result{}, err
		}
		key := fp.Key()

		if cached, ok, err := cache.Get(ctx, key); err != nil {
			return Result{}, err
		} else if ok {
			if cached.Fingerprint.PayloadHash != fp.PayloadHash {
				return Result{}, fmt.Errorf("%w: idempotency key %q collides with a different payload fingerprint", workflow.ErrValidation, key)
			}
			return cached.Result, nil
		}

		return g.Do(key, func() (Result, error) {
			// Re-check after winning the in-flight race: another call may
			// have populated the cache between this one's cache miss above
			// and its entry into the in-flight slot.
			if cached, ok, err := cache.Get(ctx, key); err == nil && ok {
				if cached.Fingerprint.PayloadHash != fp.PayloadHash {
					return Result{}, fmt.Errorf("%w: idempotency key %q collides with a different payload fingerprint", workflow.ErrValidation, key)
				}
				return cached.Result, nil
			}
			res, err := next(ctx, a)
			if err != nil {
				return res, err
			}
			if putErr := cache.Put(ctx, key, cachedResult{Fingerprint: fp, Result: res}); putErr != nil {
				return res, fmt.Errorf("persist idempotency result: %w", putErr)
			}
			return res, nil
		})
	}
}

