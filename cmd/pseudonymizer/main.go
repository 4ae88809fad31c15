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

// Package main is the entry point for the pseudonymizer service.
//
// The pseudonymizer is the trust root of the PII pipeline: it keeps the
// durable token store, translates tokens back to real values for backend
// queries, pseudonymizes all results, and writes the append-only audit
// trail. It is the only service with backend credentials.
//
// Usage:
//
//	./pseudonymizer
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 3002)
//	DATABASE_URL - PostgreSQL connection string for the token store
//	LOKI_URL - log backend base URL (default: http://localhost:3100)
//	MYSQL_DSN - relational backend DSN; relational queries disabled if unset
//	REDIS_URL - optional session mapping cache
//	AUDIT_DIR - audit log directory (default: ./audit-logs)
//	PSEUDO_CONFIG_FILE - optional YAML config file path
package main

import (
	"github.com/Freegle/FreegleDocker-sub004/pseudonymizer"
)

func main() {
	pseudonymizer.Run()
}
