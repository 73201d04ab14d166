package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DecisionCache caches authorization decisions in redis with a short TTL.
// Every mutation that can change a decision (role, permission, assignment,
// team, membership) must invalidate the affected organization's entries;
// the store handlers call InvalidateOrg after each write. With no cache
// configured the engine recomputes every decision from storage, trading a
// round trip for zero staleness.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration

	// OnHit and OnMiss, when set, observe cache effectiveness. Wired to
	// metrics at startup.
	OnHit  func()
	OnMiss func()
}

// NewDecisionCache creates a decision cache. Returns nil when client is nil
// so callers can pass the result straight to NewEngine.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DecisionCache{client: client, ttl: ttl}
}

func decisionKey(req CheckRequest) string {
	ws := "-"
	if req.WorkspaceID != nil {
		ws = fmt.Sprintf("%d", *req.WorkspaceID)
	}
	ot := "-"
	if req.ObjectTypeID != nil {
		ot = fmt.Sprintf("%d", *req.ObjectTypeID)
	}
	return fmt.Sprintf("authz:decision:org:%d:user:%d:%s:%s:%s:%s",
		req.OrganizationID, req.UserID, req.ResourceKind, req.Action, ws, ot)
}

// Get returns a cached decision if present
func (c *DecisionCache) Get(ctx context.Context, req CheckRequest) (allowed bool, found bool, err error) {
	val, err := c.client.Get(ctx, decisionKey(req)).Result()
	if err == redis.Nil {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read decision cache: %w", err)
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return val == "1", true, nil
}

// Set stores a decision. Failures are ignored: the cache is advisory and the
// next check recomputes from storage.
func (c *DecisionCache) Set(ctx context.Context, req CheckRequest, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	c.client.Set(ctx, decisionKey(req), val, c.ttl)
}

// InvalidateOrg drops every cached decision for an organization
func (c *DecisionCache) InvalidateOrg(ctx context.Context, orgID int64) error {
	return c.deleteByPattern(ctx, fmt.Sprintf("authz:decision:org:%d:*", orgID))
}

// InvalidateUser drops every cached decision for a user across organizations
func (c *DecisionCache) InvalidateUser(ctx context.Context, userID int64) error {
	return c.deleteByPattern(ctx, fmt.Sprintf("authz:decision:org:*:user:%d:*", userID))
}

func (c *DecisionCache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate decision cache: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan decision cache: %w", err)
	}
	return nil
}
