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

// Package sanitizer detects and tokenizes PII in operator queries before
// anything leaves for the AI client. It holds no durable state and never
// talks to a backend; tokens become durable only when the pseudonymizer
// accepts the mapping registration.
package sanitizer

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
	pseudo     *pseudoclient.Client
	tokenCache = NewTokenCache()
	slog       = logger.New("query-sanitizer")
)

// Prometheus metrics
var (
	promSanitizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanitizer_requests_total",
			Help: "Sanitize requests by outcome",
		},
		[]string{"status"},
	)
	promPIIDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sanitizer_pii_tokenized_total",
			Help: "PII values replaced with tokens",
		},
	)
	promEmailTrailsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sanitizer_email_trails_blocked_total",
			Help: "Queries rejected for containing email trails",
		},
	)
)

func init() {
	prometheus.MustRegister(promSanitizeTotal)
	prometheus.MustRegister(promPIIDetected)
	prometheus.MustRegister(promEmailTrailsBlocked)
}

// Run is the exported entry point for the sanitizer service
func Run() {
	fileCfg, err := config.LoadFile()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	port, _ := config.Resolve("PORT", fileCfg.Sanitizer.Port, "3001")
	pseudonymizerURL, _ := config.Resolve("PSEUDONYMIZER_URL", fileCfg.Sanitizer.PseudonymizerURL, "http://localhost:3002")

	pseudo = pseudoclient.New(pseudonymizerURL)

	router := mux.NewRouter()
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/sanitize", sanitizeHandler).Methods("POST")
	router.HandleFunc("/scan", scanHandler).Methods("POST")
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Query sanitizer ready on port %s (pseudonymizer: %s)", port, pseudonymizerURL)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
