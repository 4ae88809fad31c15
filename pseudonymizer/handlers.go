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
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// RegisterMappingRequest is the sanitizer's registration payload. The
// mapping runs token to real value.
type RegisterMappingRequest struct {
	SessionID string            `json:"sessionId"`
	Mapping   map[string]string `json:"mapping"`
	UserID    string            `json:"userId,omitempty"`
}

// QueryRequest asks for a log backend query within a session
type QueryRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DBQueryRequest asks for a whitelisted relational query within a session
type DBQueryRequest struct {
	SessionID string `json:"sessionId"`
	SQL       string `json:"sql"`
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

// writeServiceError maps an internal error onto the wire, falling back
// to a generic 500 for anything without a ServiceError in its chain
func writeServiceError(w http.ResponseWriter, err error) {
	if se, ok := AsServiceError(err); ok {
		writeErrorResponse(w, se.Status, se.Code, se.Message)
		return
	}
	writeErrorResponse(w, http.StatusInternalServerError, CodeBackendQueryError, "internal error")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if dbBackend != nil {
		if err := dbBackend.Ping(r.Context()); err != nil {
			dbStatus = "error"
		} else {
			dbStatus = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "pseudonymizer",
		"lokiUrl":  lokiURL,
		"dbStatus": dbStatus,
	})
}

// registerMappingHandler stores sanitizer-minted tokens and binds them
// to a session
func registerMappingHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	if req.SessionID == "" || len(req.Mapping) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "sessionId and mapping are required")
		return
	}

	if err := tokenStore.RegisterMapping(r.Context(), req.SessionID, req.Mapping, req.UserID); err != nil {
		plog.ErrorWithCode(req.SessionID, "", "Mapping registration failed", http.StatusInternalServerError, err, nil)
		writeErrorResponse(w, http.StatusInternalServerError, CodeBackendQueryError, "failed to register mapping")
		return
	}

	if sessionCache != nil {
		sessionCache.Invalidate(r.Context(), req.SessionID)
	}

	plog.Info(req.SessionID, "", "Registered session mapping", map[string]interface{}{
		"tokens": len(req.Mapping),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"registered": len(req.Mapping),
	})
}

// queryHandler is the core trust-boundary crossing: translate tokens to
// real values, hit the log backend, pseudonymize everything on the way
// back out, and record the audit entry either way.
func queryHandler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
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

	audit := AuditEntry{
		SessionID: req.SessionID,
		Operation: "loki_query",
		Request:   req.Query,
	}
	fail := func(err error) {
		audit.Error = err.Error()
		audit.DurationMS = time.Since(started).Milliseconds()
		auditLog.Log(audit)
		promQueriesTotal.WithLabelValues("loki_query", "error").Inc()
		plog.ErrorWithCode(req.SessionID, "", "Log query failed", 0, err, nil)
		writeServiceError(w, err)
	}

	translated, tokensUsed, err := tokenStore.TranslateQuery(r.Context(), req.Query)
	if err != nil {
		fail(err)
		return
	}
	audit.TranslatedQuery = translated
	audit.TokensUsed = tokensUsed

	resp, err := lokiClient.QueryRange(r.Context(), translated, req.Start, req.End, req.Limit)
	if err != nil {
		fail(err)
		return
	}

	resultCount := 0
	for si := range resp.Data.Result {
		stream := &resp.Data.Result[si]
		for vi := range stream.Values {
			line, lineTokens, err := tokenStore.PseudonymizeText(r.Context(), stream.Values[vi][1])
			if err != nil {
				fail(err)
				return
			}
			stream.Values[vi][1] = line
			audit.TokensUsed = append(audit.TokensUsed, lineTokens...)
			resultCount++
		}
	}

	audit.ResultCount = resultCount
	audit.DurationMS = time.Since(started).Milliseconds()
	auditLog.Log(audit)

	promQueriesTotal.WithLabelValues("loki_query", "success").Inc()
	promQueryDuration.WithLabelValues("loki_query").Observe(time.Since(started).Seconds())
	plog.InfoWithDuration(req.SessionID, "", "Log query served", float64(audit.DurationMS), map[string]interface{}{
		"results": resultCount,
	})

	writeJSON(w, http.StatusOK, resp)
}

// dbQueryHandler runs a whitelisted SELECT against the relational
// backend. Validation happens on the tokenized query, translation after,
// so the validator always sees what the AI client actually wrote.
func dbQueryHandler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req DBQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeSessionRequired, "sessionId is required")
		return
	}
	if req.SQL == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeQueryRequired, "sql is required")
		return
	}
	if dbBackend == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, CodeBackendUnavailable, "relational backend is not configured")
		return
	}

	audit := AuditEntry{
		SessionID: req.SessionID,
		Operation: "db_query",
		Request:   req.SQL,
	}
	fail := func(err error) {
		audit.Error = err.Error()
		audit.DurationMS = time.Since(started).Milliseconds()
		auditLog.Log(audit)
		promQueriesTotal.WithLabelValues("db_query", "error").Inc()
		plog.ErrorWithCode(req.SessionID, "", "Relational query failed", 0, err, nil)
		writeServiceError(w, err)
	}

	validated, err := ValidateSQL(req.SQL)
	if err != nil {
		fail(err)
		return
	}

	translated, tokensUsed, err := tokenStore.TranslateQuery(r.Context(), validated.SQL)
	if err != nil {
		fail(err)
		return
	}
	audit.TranslatedQuery = translated
	audit.TokensUsed = tokensUsed

	rows, err := dbBackend.QueryRows(r.Context(), translated)
	if err != nil {
		fail(err)
		return
	}

	pseudonymized, rowTokens, err := tokenStore.PseudonymizeRows(r.Context(), rows, validated.Columns)
	if err != nil {
		fail(err)
		return
	}
	audit.TokensUsed = append(audit.TokensUsed, rowTokens...)
	audit.ResultCount = len(pseudonymized)
	audit.DurationMS = time.Since(started).Milliseconds()
	auditLog.Log(audit)

	promQueriesTotal.WithLabelValues("db_query", "success").Inc()
	promQueryDuration.WithLabelValues("db_query").Observe(time.Since(started).Seconds())
	plog.InfoWithDuration(req.SessionID, "", "Relational query served", float64(audit.DurationMS), map[string]interface{}{
		"rows": len(pseudonymized),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":     pseudonymized,
		"rowCount": len(pseudonymized),
	})
}

// mappingHandler returns the token mapping for a session so the trusted
// front-end can de-tokenize responses for the operator
func mappingHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if sessionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, CodeSessionRequired, "sessionId is required")
		return
	}

	if sessionCache != nil {
		if mapping, ok := sessionCache.Get(r.Context(), sessionID); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": mapping})
			return
		}
	}

	mapping, ttl, err := tokenStore.SessionMapping(r.Context(), sessionID)
	if err != nil {
		plog.ErrorWithCode(sessionID, "", "Session mapping lookup failed", http.StatusInternalServerError, err, nil)
		writeErrorResponse(w, http.StatusInternalServerError, CodeBackendQueryError, "failed to load session mapping")
		return
	}

	if sessionCache != nil && len(mapping) > 0 {
		sessionCache.Set(r.Context(), sessionID, mapping, ttl)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": mapping})
}

// schemaHandler publishes the whitelist so the AI client can discover
// what it is allowed to query
func schemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DescribeSchema())
}
