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

// Package pseudoclient is the only way the sanitizer and MCP services
// talk to the pseudonymizer. It deliberately exposes no token store
// operations and no backend access: callers hand over opaque strings
// and get opaque strings back, which keeps the trust boundary visible
// in the type system.
package pseudoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable means the pseudonymizer could not be reached at all.
// Callers map this to a 503 with PSEUDONYMIZER_UNAVAILABLE.
var ErrUnavailable = errors.New("pseudonymizer unavailable")

// Client is an HTTP client for the pseudonymizer service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client with a bounded request timeout
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 65 * time.Second},
	}
}

// BaseURL returns the configured pseudonymizer address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// QueryParams is a log backend query forwarded on behalf of a session
type QueryParams struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DBQueryParams is a relational query forwarded on behalf of a session
type DBQueryParams struct {
	SessionID string `json:"sessionId"`
	SQL       string `json:"sql"`
}

// RegisterMapping registers sanitizer-minted tokens for a session.
// A non-2xx response is an error: registration must succeed before a
// sanitized query is handed to anyone.
func (c *Client) RegisterMapping(ctx context.Context, sessionID string, mapping map[string]string, userID string) error {
	body := map[string]interface{}{
		"sessionId": sessionID,
		"mapping":   mapping,
	}
	if userID != "" {
		body["userId"] = userID
	}

	status, respBody, err := c.post(ctx, "/register-mapping", body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("register mapping returned %d: %s", status, respBody)
	}
	return nil
}

// Query forwards a log backend query and returns the downstream status
// and body verbatim, so proxies pass results and errors through unchanged
func (c *Client) Query(ctx context.Context, params QueryParams) (int, []byte, error) {
	return c.post(ctx, "/query", params)
}

// DBQuery forwards a relational query, passthrough like Query
func (c *Client) DBQuery(ctx context.Context, params DBQueryParams) (int, []byte, error) {
	return c.post(ctx, "/db-query", params)
}

// Schema fetches the relational whitelist description
func (c *Client) Schema(ctx context.Context) (int, []byte, error) {
	return c.get(ctx, "/schema")
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, body, nil
}
