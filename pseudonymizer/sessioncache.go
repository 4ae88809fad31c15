// Copyright 2025 Freegle
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pseudonymizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Freegle/FreegleDocker-sub004/shared/logger"
)

// SessionCache is an optional Redis read-through cache in front of the
// session_mappings table. The store stays the source of truth; cache
// entries expire when the earliest session row would, so an entry can
// never outlive its session. All cache failures degrade to store reads.
type SessionCache struct {
	client *redis.Client
	logger *logger.Logger
}

// NewSessionCache connects to Redis using a URL of the form
// redis://host:port/db
func NewSessionCache(ctx context.Context, redisURL string) (*SessionCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &SessionCache{client: client, logger: logger.New("session-cache")}, nil
}

// Close releases the Redis connection
func (c *SessionCache) Close() error {
	return c.client.Close()
}

func cacheKey(sessionID string) string {
	return "session-mapping:" + sessionID
}

// Get returns the cached mapping for a session, or ok=false on miss or
// any cache error
func (c *SessionCache) Get(ctx context.Context, sessionID string) (map[string]string, bool) {
	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn(sessionID, "", "Session cache read failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, false
	}
	return mapping, true
}

// Set caches a session mapping for the remaining session lifetime. The
// ttl comes from the session rows themselves; anything longer would let
// the cache serve a mapping the store has already expired.
func (c *SessionCache) Set(ctx context.Context, sessionID string, mapping map[string]string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if ttl > sessionTTL {
		ttl = sessionTTL
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(sessionID), data, ttl).Err(); err != nil {
		c.logger.Warn(sessionID, "", "Session cache write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Invalidate drops the cached mapping after a registration changes it
func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) {
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		c.logger.Warn(sessionID, "", "Session cache invalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
