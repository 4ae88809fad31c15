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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerWritesDailyJSONL(t *testing.T) {
	dir := t.TempDir()

	audit, err := NewAuditLogger(dir)
	require.NoError(t, err)

	audit.Log(AuditEntry{
		SessionID:       "sess_1",
		Operation:       "loki_query",
		Request:         `{app="fd"} |= "user_aa11bb@gmail.com"`,
		TranslatedQuery: `{app="fd"} |= "jane@gmail.com"`,
		ResultCount:     3,
		TokensUsed:      []string{"user_aa11bb@gmail.com"},
		DurationMS:      42,
	})
	audit.Log(AuditEntry{
		SessionID: "sess_2",
		Operation: "db_query",
		Request:   "SELECT id FROM users LIMIT 5",
		Error:     "SQL_VALIDATION_ERROR: table 'secrets' is not allowed",
	})
	audit.Close()

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "sess_1", first.SessionID)
	assert.Equal(t, "loki_query", first.Operation)
	assert.Equal(t, 3, first.ResultCount)
	assert.NotEmpty(t, first.Timestamp)

	var second AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "db_query", second.Operation)
	assert.Contains(t, second.Error, "not allowed")
}

func TestAuditLoggerKeepsCallerTimestamp(t *testing.T) {
	dir := t.TempDir()

	audit, err := NewAuditLogger(dir)
	require.NoError(t, err)

	audit.Log(AuditEntry{
		Timestamp: "2026-08-31T23:59:59Z",
		SessionID: "sess_1",
		Operation: "loki_query",
	})
	audit.Close()

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry AuditEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "2026-08-31T23:59:59Z", entry.Timestamp)
}
