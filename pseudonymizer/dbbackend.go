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
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

// DBBackend is the read-only connection to the relational backend.
// Queries reach it only after whitelist validation and translation.
type DBBackend struct {
	db *sql.DB
}

// OpenDBBackend connects to MySQL with conservative pool settings.
// multiStatements stays off so a validated query can never smuggle a
// second statement past the validator.
func OpenDBBackend(ctx context.Context, dsn string) (*DBBackend, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "parseTime=true&loc=UTC&charset=utf8mb4&multiStatements=false&interpolateParams=false"

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open relational backend: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping relational backend: %w", err)
	}

	return &DBBackend{db: db}, nil
}

// NewDBBackend wraps an existing handle. Used by tests with sqlmock.
func NewDBBackend(db *sql.DB) *DBBackend {
	return &DBBackend{db: db}
}

// Close releases the pool
func (b *DBBackend) Close() error {
	return b.db.Close()
}

// Ping reports backend reachability for health checks
func (b *DBBackend) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.db.PingContext(pingCtx)
}

// QueryRows executes a validated, translated query and returns generic
// rows keyed by result column name
func (b *DBBackend) QueryRows(ctx context.Context, query string) ([]map[string]interface{}, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := b.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "relational query failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "read result columns", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "scan result row", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, NewServiceError(CodeBackendQueryError, http.StatusInternalServerError, "iterate result rows", err)
	}

	return results, nil
}

var (
	valueEmailPattern    = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	valueIPPattern       = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	valuePhonePattern    = regexp.MustCompile(`^(?:\+44|0)\s*\d{2,4}\s*\d{3,4}\s*\d{3,4}$`)
	valuePostcodePattern = regexp.MustCompile(`(?i)^[A-Z]{1,2}\d{1,2}[A-Z]?\s*\d[A-Z]{2}$`)
)

// detectValueType picks the token shape for a sensitive value. The
// column name is more reliable than the value, so it is consulted first.
func detectValueType(value, columnName string) pii.FieldType {
	lowerCol := strings.ToLower(columnName)
	switch {
	case strings.Contains(lowerCol, "email"), lowerCol == "fromaddr", lowerCol == "contactmail":
		return pii.FieldTypeEmail
	case strings.Contains(lowerCol, "name"):
		return pii.FieldTypeName
	case strings.Contains(lowerCol, "ip"):
		return pii.FieldTypeIP
	}

	switch {
	case valueEmailPattern.MatchString(value):
		return pii.FieldTypeEmail
	case valueIPPattern.MatchString(value):
		return pii.FieldTypeIP
	case valuePhonePattern.MatchString(value):
		return pii.FieldTypePhone
	case valuePostcodePattern.MatchString(value):
		return pii.FieldTypePostcode
	}

	return pii.FieldTypeName
}

// PseudonymizeRows walks result rows and tokenizes every sensitive
// column value. Columns outside the validated set are dropped entirely
// rather than passed through.
func (s *Store) PseudonymizeRows(ctx context.Context, rows []map[string]interface{}, columns []ColumnRef) ([]map[string]interface{}, []string, error) {
	var tokensUsed []string
	results := make([]map[string]interface{}, 0, len(rows))

	for _, row := range rows {
		result := make(map[string]interface{}, len(columns))

		for _, col := range columns {
			key := col.Column
			if col.Alias != "" {
				key = col.Alias
			}
			value, present := row[key]
			if !present {
				continue
			}

			privacy, ok := columnPrivacy(col.Table, col.Column)
			if !ok {
				continue
			}

			if privacy == PrivacyPublic {
				result[key] = value
				continue
			}

			str := fmt.Sprintf("%v", value)
			if value == nil || str == "" {
				result[key] = value
				continue
			}

			token, err := s.GetOrCreateToken(ctx, str, detectValueType(str, col.Column))
			if err != nil {
				return nil, nil, fmt.Errorf("pseudonymize column %s.%s: %w", col.Table, col.Column, err)
			}
			result[key] = token
			tokensUsed = append(tokensUsed, token)
		}

		results = append(results, result)
	}

	return results, tokensUsed, nil
}
