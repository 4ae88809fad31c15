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

// Package mcpserver is the stateless tool proxy between the AI client
// and the pseudonymizer. It exposes a fixed tool whitelist, validates
// call shapes, and forwards everything else verbatim. It holds no PII,
// no token store, and no backend credentials.
package mcpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Freegle/FreegleDocker-sub004/pseudoclient"
	"github.com/Freegle/FreegleDocker-sub004/shared/config"
	"github.com/Freegle/FreegleDocker-sub004/shared/logger"
)

// Shared service state, wired during Run. Tests set these directly.
var (
	pseudo *pseudoclient.Client
	mlog   = logger.New("mcp-interface")
)

// Prometheus metrics
var (
	promToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Tool calls by tool and outcome",
		},
		[]string{"tool", "status"},
	)
	promToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_tool_call_duration_seconds",
			Help:    "Tool call latency including the downstream request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(promToolCalls)
	prometheus.MustRegister(promToolDuration)
}

// Run is the exported entry point for the MCP interface service
func Run() {
	fileCfg, err := config.LoadFile()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	port, _ := config.Resolve("PORT", fileCfg.MCP.Port, "3003")
	pseudonymizerURL, _ := config.Resolve("PSEUDONYMIZER_URL", fileCfg.MCP.PseudonymizerURL, "http://localhost:3002")

	pseudo = pseudoclient.New(pseudonymizerURL)

	router := mux.NewRouter()
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/tools", toolsHandler).Methods("GET")
	router.HandleFunc("/tools/loki_query", lokiQueryHandler).Methods("POST")
	router.HandleFunc("/mcp/call", mcpCallHandler).Methods("POST")
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
	}

	log.Printf("MCP interface ready on port %s (pseudonymizer: %s)", port, pseudonymizerURL)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
