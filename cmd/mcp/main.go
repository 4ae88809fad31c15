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

// Package main is the entry point for the MCP interface service.
//
// The MCP interface is the stateless proxy the AI client talks to. It
// publishes a fixed tool whitelist and forwards tool calls to the
// pseudonymizer without touching their contents.
//
// Usage:
//
//	./mcp
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 3003)
//	PSEUDONYMIZER_URL - URL of the pseudonymizer service
//	PSEUDO_CONFIG_FILE - optional YAML config file path
package main

import (
	"github.com/Freegle/FreegleDocker-sub004/mcpserver"
)

func main() {
	mcpserver.Run()
}
