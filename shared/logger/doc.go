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

/*
Package logger provides structured JSON logging for the pseudonymization
services.

# Overview

Log entries are written to stdout as single-line JSON, ready for Docker
log collection and Loki ingestion. Every entry carries:

  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (query-sanitizer, pseudonymizer, mcp-interface)
  - Instance ID and container name
  - Session ID (for correlating a support conversation)
  - Request ID (for request correlation)
  - Custom fields

Log lines identify work by session ID, never by user identity. Real PII
must not be logged: the services handle real values only inside the
pseudonymizer, and even there log fields carry tokens and counts.

# Usage

Create a logger for your component:

	log := logger.New("pseudonymizer")

Log messages with session and request context:

	log.Info("sess_ab12cd34", "req-456", "Query translated", map[string]interface{}{
	    "tokens": 3,
	})

Log errors with status codes:

	log.ErrorWithCode("sess_ab12cd34", "req-456", "Backend query failed", 503, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("sess_ab12cd34", "req-456", "Query served",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
