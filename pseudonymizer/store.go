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
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/Freegle/FreegleDocker-sub004/pii"
	"github.com/Freegle/FreegleDocker-sub004/shared/logger"
)

// sessionTTL is how long a session's token mapping stays resolvable.
// Token mappings themselves are permanent; only the session rows expire.
const sessionTTL = time.Hour

// Store is the durable token vault. It owns the token_mappings table
// (token to real value, never deleted), the session_mappings table
// (expiring per-session rows), and the user ID counter.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// OpenStore connects to Postgres and ensures the schema exists
func OpenStore(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping token store: %w", err)
	}

	s := NewStore(db)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle. Used by tests with sqlmock.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, logger: logger.New("token-store")}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the tables if they do not exist. The partial unique
// index enforces one canonical token per (field_type, real_value); alias
// rows registered by the sanitizer sit outside it.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS token_mappings (
			token TEXT PRIMARY KEY,
			real_value TEXT NOT NULL,
			field_type TEXT NOT NULL,
			canonical BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_mappings_canonical
			ON token_mappings (field_type, real_value) WHERE canonical`,
		`CREATE INDEX IF NOT EXISTS idx_token_mappings_real
			ON token_mappings (field_type, real_value)`,
		`CREATE TABLE IF NOT EXISTS session_mappings (
			session_id TEXT NOT NULL,
			token TEXT NOT NULL,
			user_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, token)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_mappings_expires
			ON session_mappings (expires_at)`,
		`CREATE TABLE IF NOT EXISTS user_id_counter (
			id INT PRIMARY KEY CHECK (id = 1),
			next_value BIGINT NOT NULL
		)`,
		fmt.Sprintf(`INSERT INTO user_id_counter (id, next_value) VALUES (1, %d)
			ON CONFLICT (id) DO NOTHING`, pii.UserIDCounterSeed),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init token store schema: %w", err)
		}
	}

	s.logger.Info("", "", "Token store schema ready", nil)
	return nil
}

// GetOrCreateToken returns the canonical token for a real value, minting
// one if none exists. Concurrent mints of the same value race on the
// partial unique index; the loser's insert is a no-op and the re-read
// returns the winner's token, so every caller sees the same token.
func (s *Store) GetOrCreateToken(ctx context.Context, value string, fieldType pii.FieldType) (string, error) {
	norm := pii.Normalize(value)
	if norm == "" {
		return "", fmt.Errorf("empty value for field type %s", fieldType)
	}

	token, err := s.lookupCanonical(ctx, norm, fieldType)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	minted, err := s.mint(ctx, value, fieldType)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO token_mappings (token, real_value, field_type, canonical)
		 VALUES ($1, $2, $3, TRUE)
		 ON CONFLICT DO NOTHING`,
		minted, norm, string(fieldType))
	if err != nil {
		return "", fmt.Errorf("insert token mapping: %w", err)
	}

	// Re-read rather than trusting our insert: if another instance won
	// the race its token is the canonical one.
	token, err = s.lookupCanonical(ctx, norm, fieldType)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("token mapping for %s vanished after insert", fieldType)
	}
	return token, nil
}

func (s *Store) lookupCanonical(ctx context.Context, norm string, fieldType pii.FieldType) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM token_mappings
		 WHERE field_type = $1 AND real_value = $2 AND canonical`,
		string(fieldType), norm).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return token, nil
}

func (s *Store) mint(ctx context.Context, value string, fieldType pii.FieldType) (string, error) {
	switch fieldType {
	case pii.FieldTypeUser:
		id, err := s.NextUserID(ctx)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(id, 10), nil
	case pii.FieldTypeEmail:
		return pii.MintEmailToken(value), nil
	case pii.FieldTypeIP:
		return pii.MintIPToken(), nil
	case pii.FieldTypePhone:
		return pii.MintPhoneToken(), nil
	case pii.FieldTypePostcode:
		return pii.MintPostcodeToken(), nil
	case pii.FieldTypeName:
		return pii.MintNameToken(), nil
	default:
		return pii.MintGenericToken(fieldType), nil
	}
}

// NextUserID atomically advances the durable counter and returns the
// value handed out. Safe across instances and restarts.
func (s *Store) NextUserID(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE user_id_counter SET next_value = next_value + 1
		 WHERE id = 1 RETURNING next_value - 1`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("advance user id counter: %w", err)
	}
	return next, nil
}

// LookupReal resolves a token back to its real value. Returns ok=false
// for tokens the store has never seen.
func (s *Store) LookupReal(ctx context.Context, token string) (string, bool, error) {
	var real string
	err := s.db.QueryRowContext(ctx,
		`SELECT real_value FROM token_mappings WHERE token = $1`, token).Scan(&real)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup real value: %w", err)
	}
	return real, true, nil
}

// RegisterMapping stores sanitizer-minted tokens and binds them to a
// session. A token for a value seen for the first time becomes that
// value's canonical token, so later result pseudonymization reuses it.
// If the value already has a canonical token the new one is kept as an
// alias: it still translates, and the sanitized query already left with
// it. Session rows expire an hour after registration.
func (s *Store) RegisterMapping(ctx context.Context, sessionID string, mapping map[string]string, userID string) error {
	if sessionID == "" || len(mapping) == 0 {
		return fmt.Errorf("sessionId and mapping are required")
	}

	expiresAt := time.Now().Add(sessionTTL)

	for token, realValue := range mapping {
		fieldType := FieldTypeFromToken(token)
		norm := pii.Normalize(realValue)

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO token_mappings (token, real_value, field_type, canonical)
			 VALUES ($1, $2, $3, TRUE)
			 ON CONFLICT DO NOTHING`,
			token, norm, string(fieldType))
		if err != nil {
			return fmt.Errorf("register token mapping: %w", err)
		}

		// If the value already had a canonical token the insert above
		// was a no-op; keep this token resolvable as an alias.
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO token_mappings (token, real_value, field_type, canonical)
			 VALUES ($1, $2, $3, FALSE)
			 ON CONFLICT DO NOTHING`,
			token, norm, string(fieldType))
		if err != nil {
			return fmt.Errorf("register alias mapping: %w", err)
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO session_mappings (session_id, token, user_id, expires_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4)
			 ON CONFLICT (session_id, token) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
			sessionID, token, userID, expiresAt)
		if err != nil {
			return fmt.Errorf("register session mapping: %w", err)
		}
	}

	return nil
}

// SessionMapping returns the token to real value mapping for a session,
// along with how long the earliest row stays valid so callers can bound
// cache lifetimes. Expired rows are invisible even before the sweeper
// removes them.
func (s *Store) SessionMapping(ctx context.Context, sessionID string) (map[string]string, time.Duration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sm.token, tm.real_value, sm.expires_at
		 FROM session_mappings sm
		 JOIN token_mappings tm ON tm.token = sm.token
		 WHERE sm.session_id = $1 AND sm.expires_at > NOW()`,
		sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("load session mapping: %w", err)
	}
	defer rows.Close()

	mapping := make(map[string]string)
	var earliest time.Time
	for rows.Next() {
		var token, real string
		var expires time.Time
		if err := rows.Scan(&token, &real, &expires); err != nil {
			return nil, 0, fmt.Errorf("scan session mapping: %w", err)
		}
		mapping[token] = real
		if earliest.IsZero() || expires.Before(earliest) {
			earliest = expires
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var ttl time.Duration
	if !earliest.IsZero() {
		ttl = time.Until(earliest)
	}
	return mapping, ttl, nil
}

// SweepExpired removes expired session rows and reports how many went
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_mappings WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

var tokenPrefixPattern = regexp.MustCompile(`^(EMAIL|IP|PHONE|POSTCODE|NAME|USER|LOCATION)_[a-f0-9]{6,8}$`)

// FieldTypeFromToken infers the field type a token's shape encodes.
// Most tokens are recognized by shape; field types without a dedicated
// shape carry an explicit TYPE_ prefix.
func FieldTypeFromToken(token string) pii.FieldType {
	if m := tokenPrefixPattern.FindStringSubmatch(token); m != nil {
		return pii.FieldType(m[1])
	}
	switch {
	case strings.HasPrefix(token, "user_") && strings.Contains(token, "@"):
		return pii.FieldTypeEmail
	case strings.HasPrefix(token, "10.0."):
		return pii.FieldTypeIP
	case strings.HasPrefix(token, "07700"):
		return pii.FieldTypePhone
	case strings.HasPrefix(token, "ZZ"):
		return pii.FieldTypePostcode
	case strings.HasPrefix(token, "999"):
		return pii.FieldTypeUser
	default:
		return pii.FieldTypeName
	}
}
