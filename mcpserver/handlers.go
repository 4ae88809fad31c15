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

package mcpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Freegle/FreegleDocker-sub004/pseudoclient"
)

// Error codes in JSON error bodies
const (
	CodeValidationError          = "VALIDATION_ERROR"
	CodeSessionRequired          = "SESSION_REQUIRED"
	CodeQueryRequired            = "QUERY_REQUIRED"
	CodeUnknownTool              = "UNKNOWN_TOOL"
	CodePseudonymizerUnavailable = "PSEUDONYMIZER_UNAVAILABLE"
)

// Tool describes one whitelisted tool in the manifest
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// toolManifest is the fixed tool whitelist. The AI client can call what
// is listed here and nothing else.
var toolManifest = []Tool{
	{
		Name:        "loki_query",
		Description: "Query application logs. All results are pseudonymized; tokens from the sanitized question can be used as search terms and will match the underlying real values.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sessionId": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier issued by the sanitizer",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "LogQL query; may contain pseudonymization tokens",
				},
				"start": map[string]interface{}{
					"type":        "string",
					"description": "Start of the time range, relative (1h, 7d) or RFC3339. Default 1h.",
				},
				"end": map[string]interface{}{
					"type":        "string",
					"description": "End of the time range. Default now.",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum log lines to return. Default 100.",
				},
			},
			"required": []string{"sessionId", "query"},
		},
	},
}

// LokiQueryRequest is the tool call payload
type LokiQueryRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// MCPCallRequest is the generic dispatch envelope
type MCPCallRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "ok",
		"service":          "mcp-interface",
		"pseudonymizerUrl": pseudo.BaseURL(),
	})
}

// toolsHandler returns the manifest
func toolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": toolManifest})
}

// lokiQueryHandler validates the call and forwards it verbatim to the
// pseudonymizer. The downstream status and body pass through unchanged;
// this service adds nothing and removes nothing.
func lokiQueryHandler(w http.ResponseWriter, r *http.Request) {
	var req LokiQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	runLokiQuery(w, r, req)
}

func runLokiQuery(w http.ResponseWriter, r *http.Request, req LokiQueryRequest) {
	started := time.Now()

	if req.SessionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeSessionRequired, "sessionId is required")
		return
	}
	if req.Query == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeQueryRequired, "query is required")
		return
	}
	if req.Start == "" {
		req.Start = "1h"
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	status, body, err := pseudo.Query(r.Context(), pseudoclient.QueryParams{
		SessionID: req.SessionID,
		Query:     req.Query,
		Start:     req.Start,
		End:       req.End,
		Limit:     req.Limit,
	})
	if err != nil {
		promToolCalls.WithLabelValues("loki_query", "unavailable").Inc()
		mlog.ErrorWithCode(req.SessionID, "", "Pseudonymizer unreachable", http.StatusServiceUnavailable, err, nil)
		if errors.Is(err, pseudoclient.ErrUnavailable) {
			writeErrorResponse(w, http.StatusServiceUnavailable, CodePseudonymizerUnavailable,
				"The pseudonymizer service is unavailable. Try again shortly.")
		} else {
			writeErrorResponse(w, http.StatusServiceUnavailable, CodePseudonymizerUnavailable,
				"Failed to reach the pseudonymizer. Try again shortly.")
		}
		return
	}

	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	promToolCalls.WithLabelValues("loki_query", outcome).Inc()
	promToolDuration.WithLabelValues("loki_query").Observe(time.Since(started).Seconds())
	mlog.InfoWithDuration(req.SessionID, "", "Tool call proxied", float64(time.Since(started).Milliseconds()), map[string]interface{}{
		"tool":   "loki_query",
		"status": status,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// mcpCallHandler is the generic dispatch endpoint: one envelope, routed
// by tool name to the same handlers as the dedicated routes
func mcpCallHandler(w http.ResponseWriter, r *http.Request) {
	var req MCPCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}

	switch req.Tool {
	case "loki_query":
		var params LokiQueryRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid tool params")
				return
			}
		}
		runLokiQuery(w, r, params)
	default:
		writeErrorResponse(w, http.StatusNotFound, CodeUnknownTool, "unknown tool: "+req.Tool)
	}
}
