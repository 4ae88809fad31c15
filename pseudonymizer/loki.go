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
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// LokiResponse mirrors the query_range payload shape. Values pass through
// untouched except for pseudonymization of the log lines.
type LokiResponse struct {
	Status string   `json:"status"`
	Data   LokiData `json:"data"`
}

// LokiData holds the result streams
type LokiData struct {
	ResultType string          `json:"resultType"`
	Result     []LokiStream    `json:"result"`
	Stats      json.RawMessage `json:"stats,omitempty"`
}

// LokiStream is one labelled stream with its (timestamp, line) pairs
type LokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// LokiClient queries a Loki-compatible log backend
type LokiClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLokiClient returns a client with a bounded request timeout
func NewLokiClient(baseURL string, timeout time.Duration) *LokiClient {
	return &LokiClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var relativeDurationPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// parseTimeParam converts a time parameter to nanoseconds since epoch.
// Accepts relative durations like 1h or 7d (interpreted backwards from
// now), RFC3339 timestamps, and raw nanosecond epochs.
func parseTimeParam(value string, now time.Time) (int64, error) {
	if m := relativeDurationPattern.FindStringSubmatch(value); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit).UnixNano(), nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixNano(), nil
	}

	if ns, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ns, nil
	}

	return 0, fmt.Errorf("unrecognized time parameter %q", value)
}

// QueryRange runs a translated query against the backend. Transport
// failures and backend faults are reported as distinct error codes so
// handlers can map them to 503 and 500 respectively.
func (c *LokiClient) QueryRange(ctx context.Context, query, start, end string, limit int) (*LokiResponse, error) {
	now := time.Now()

	startNs, err := parseTimeParam(start, now)
	if err != nil {
		return nil, NewServiceError(CodeValidationError, http.StatusBadRequest, "invalid start parameter", err)
	}
	endNs := now.UnixNano()
	if end != "" {
		endNs, err = parseTimeParam(end, now)
		if err != nil {
			return nil, NewServiceError(CodeValidationError, http.StatusBadRequest, "invalid end parameter", err)
		}
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(startNs, 10))
	params.Set("end", strconv.FormatInt(endNs, 10))
	params.Set("limit", strconv.Itoa(limit))

	reqURL := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "build backend request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewServiceError(CodeBackendUnavailable, http.StatusServiceUnavailable, "log backend unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "read backend response", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The backend echoes the translated query in its error body, so
		// the body goes in the wrapped cause for operator logs only and
		// never onto the wire.
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError,
			"log backend query failed",
			fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var lokiResp LokiResponse
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "decode backend response", err)
	}
	return &lokiResp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
