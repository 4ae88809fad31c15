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

// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Environment variables always win,
// so container deployments can override a mounted config file per instance.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Source indicates where a configuration value was resolved from
type Source string

const (
	SourceEnvVars Source = "env_vars"
	SourceFile    Source = "config_file"
	SourceDefault Source = "default"
)

// File is the on-disk configuration shared by all three services. Each
// service reads only its own section plus the common backend settings.
type File struct {
	Sanitizer struct {
		Port             string `yaml:"port"`
		PseudonymizerURL string `yaml:"pseudonymizer_url"`
	} `yaml:"sanitizer"`

	Pseudonymizer struct {
		Port        string `yaml:"port"`
		DatabaseURL string `yaml:"database_url"`
		LokiURL     string `yaml:"loki_url"`
		MySQLDSN    string `yaml:"mysql_dsn"`
		RedisURL    string `yaml:"redis_url"`
		AuditDir    string `yaml:"audit_dir"`
	} `yaml:"pseudonymizer"`

	MCP struct {
		Port             string `yaml:"port"`
		PseudonymizerURL string `yaml:"pseudonymizer_url"`
	} `yaml:"mcp"`
}

// LoadFile reads the config file named by PSEUDO_CONFIG_FILE, falling back
// to ./pseudo-config.yaml. A missing file is not an error; env vars and
// defaults still apply.
func LoadFile() (*File, error) {
	path := os.Getenv("PSEUDO_CONFIG_FILE")
	if path == "" {
		path = "pseudo-config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}

// Resolve returns the first non-empty value in priority order:
// environment variable, config file value, default.
func Resolve(envKey, fileValue, defaultValue string) (string, Source) {
	if v := os.Getenv(envKey); v != "" {
		return v, SourceEnvVars
	}
	if fileValue != "" {
		return fileValue, SourceFile
	}
	return defaultValue, SourceDefault
}

// GetEnv returns an environment variable or a default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns an integer environment variable or a default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
