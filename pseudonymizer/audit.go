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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Freegle/FreegleDocker-sub004/shared/logger"
)

// AuditEntry is one line in the audit trail. The request field holds the
// pseudonymized form; the translated query holds real values and is why
// the audit directory lives inside the trust boundary.
type AuditEntry struct {
	Timestamp       string   `json:"timestamp"`
	SessionID       string   `json:"sessionId"`
	Operation       string   `json:"operation"`
	Request         string   `json:"request"`
	TranslatedQuery string   `json:"translatedQuery,omitempty"`
	ResultCount     int      `json:"resultCount"`
	TokensUsed      []string `json:"tokensUsed,omitempty"`
	DurationMS      int64    `json:"durationMs"`
	Error           string   `json:"error,omitempty"`
}

// AuditLogger appends entries to one JSONL file per day. Writes go
// through a queue so a slow disk never blocks query serving; if the
// queue backs up the entry is dropped and the drop is logged.
type AuditLogger struct {
	dir    string
	queue  chan AuditEntry
	done   chan struct{}
	logger *logger.Logger
}

// NewAuditLogger creates the audit directory and starts the writer
func NewAuditLogger(dir string) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	a := &AuditLogger{
		dir:    dir,
		queue:  make(chan AuditEntry, 1000),
		done:   make(chan struct{}),
		logger: logger.New("audit"),
	}
	go a.writeLoop()
	return a, nil
}

// Log enqueues an entry. Non-blocking; the audit trail is best-effort
// under pressure but durable in normal operation.
func (a *AuditLogger) Log(entry AuditEntry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case a.queue <- entry:
	default:
		a.logger.Warn(entry.SessionID, "", "Audit queue full, entry dropped", map[string]interface{}{
			"operation": entry.Operation,
		})
	}
}

// Close drains the queue and stops the writer
func (a *AuditLogger) Close() {
	close(a.queue)
	<-a.done
}

func (a *AuditLogger) writeLoop() {
	defer close(a.done)

	var (
		file    *os.File
		writer  *bufio.Writer
		curDate string
	)
	closeFile := func() {
		if writer != nil {
			writer.Flush()
		}
		if file != nil {
			file.Close()
		}
		file, writer = nil, nil
	}
	defer closeFile()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-a.queue:
			if !ok {
				return
			}
			date := time.Now().UTC().Format("2006-01-02")
			if date != curDate || file == nil {
				closeFile()
				path := filepath.Join(a.dir, date+".jsonl")
				f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
				if err != nil {
					a.logger.Error("", "", "Failed to open audit file", map[string]interface{}{
						"path": path, "error": err.Error(),
					})
					continue
				}
				file, writer, curDate = f, bufio.NewWriter(f), date
			}
			line, err := json.Marshal(entry)
			if err != nil {
				a.logger.Error("", "", "Failed to marshal audit entry", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			writer.Write(line)
			writer.WriteByte('\n')
		case <-ticker.C:
			if writer != nil {
				writer.Flush()
			}
		}
	}
}
