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

package sanitizer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Freegle/FreegleDocker-sub004/pii"
	"github.com/Freegle/FreegleDocker-sub004/pseudoclient"
)

// Error codes in JSON error bodies
const (
	CodeValidationError          = "VALIDATION_ERROR"
	CodeEmailTrailDetected       = "EMAIL_TRAIL_DETECTED"
	CodePseudonymizerUnavailable = "PSEUDONYMIZER_UNAVAILABLE"
)

// SanitizeRequest is the operator-facing request to rewrite a query
type SanitizeRequest struct {
	Query    string    `json:"query"`
	KnownPII *KnownPII `json:"knownPii,omitempty"`
	UserID   string    `json:"userId,omitempty"`
}

// SanitizeResponse carries the rewritten query, the fresh session, and
// the local mapping the front-end keeps for de-tokenizing answers
type SanitizeResponse struct {
	PseudonymizedQuery string            `json:"pseudonymizedQuery"`
	SessionID          string            `json:"sessionId"`
	LocalMapping       map[string]string `json:"localMapping"`
	DetectedPII        []pii.Detection   `json:"detectedPii"`
}

// ScanRequest asks for detection only, with no rewriting
type ScanRequest struct {
	Query    string    `json:"query"`
	KnownPII *KnownPII `json:"knownPii,omitempty"`
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
		"service":          "query-sanitizer",
		"pseudonymizerUrl": pseudo.BaseURL(),
	})
}

// sanitizeHandler rewrites a support query so it is safe to hand to the
// AI client. The mapping registration with the pseudonymizer is
// synchronous: a query is only returned once its tokens will resolve.
func sanitizeHandler(w http.ResponseWriter, r *http.Request) {
	var req SanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "query is required")
		return
	}

	if pii.ContainsEmailTrail(req.Query) {
		promEmailTrailsBlocked.Inc()
		slog.Warn("", "", "Email trail rejected", nil)
		writeErrorResponse(w, http.StatusBadRequest, CodeEmailTrailDetected,
			"Your query appears to contain copy-pasted email content. Please describe the issue in your own words to protect user privacy.")
		return
	}

	sessionID := NewSessionID()
	detectedPII := ScanForPII(req.Query, req.KnownPII)
	pseudonymized, mapping := ExtractAndPseudonymize(req.Query, req.KnownPII, tokenCache)

	if len(mapping) > 0 {
		if err := pseudo.RegisterMapping(r.Context(), sessionID, mapping, req.UserID); err != nil {
			promSanitizeTotal.WithLabelValues("error").Inc()
			slog.ErrorWithCode(sessionID, "", "Mapping registration failed", http.StatusServiceUnavailable, err, nil)
			if errors.Is(err, pseudoclient.ErrUnavailable) {
				writeErrorResponse(w, http.StatusServiceUnavailable, CodePseudonymizerUnavailable,
					"The pseudonymizer service is unavailable. Try again shortly.")
			} else {
				writeErrorResponse(w, http.StatusServiceUnavailable, CodePseudonymizerUnavailable,
					"Failed to register the session mapping. Try again shortly.")
			}
			return
		}
	}

	promSanitizeTotal.WithLabelValues("success").Inc()
	promPIIDetected.Add(float64(len(mapping)))
	slog.Info(sessionID, "", "Query sanitized", map[string]interface{}{
		"tokens": len(mapping),
	})

	writeJSON(w, http.StatusOK, SanitizeResponse{
		PseudonymizedQuery: pseudonymized,
		SessionID:          sessionID,
		LocalMapping:       mapping,
		DetectedPII:        detectedPII,
	})
}

// scanHandler reports what would be tokenized, for the front-end to
// preview before sanitizing
func scanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "query is required")
		return
	}

	detected := ScanForPII(req.Query, req.KnownPII)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detectedPii":        detected,
		"containsEmailTrail": pii.ContainsEmailTrail(req.Query),
		"piiCount":           len(detected),
	})
}
