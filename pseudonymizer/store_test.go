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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestGetOrCreateTokenReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("EMAIL", "jane@gmail.com").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("user_ab12cd@gmail.com"))

	token, err := store.GetOrCreateToken(context.Background(), "Jane@Gmail.com ", pii.FieldTypeEmail)
	require.NoError(t, err)
	assert.Equal(t, "user_ab12cd@gmail.com", token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateTokenMintsAndRereads(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("EMAIL", "jane@gmail.com").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))
	mock.ExpectExec(`INSERT INTO token_mappings`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("EMAIL", "jane@gmail.com").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("user_ffeedd@gmail.com"))

	token, err := store.GetOrCreateToken(context.Background(), "jane@gmail.com", pii.FieldTypeEmail)
	require.NoError(t, err)
	assert.Equal(t, "user_ffeedd@gmail.com", token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateTokenLosesRaceGracefully(t *testing.T) {
	store, mock := newMockStore(t)

	// Our insert is a no-op because another instance won; the re-read
	// must return the winner's token.
	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("NAME", "jane doe").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))
	mock.ExpectExec(`INSERT INTO token_mappings`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("NAME", "jane doe").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("Member_aabb00"))

	token, err := store.GetOrCreateToken(context.Background(), "Jane Doe", pii.FieldTypeName)
	require.NoError(t, err)
	assert.Equal(t, "Member_aabb00", token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateTokenRejectsEmptyValue(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.GetOrCreateToken(context.Background(), "   ", pii.FieldTypeEmail)
	assert.Error(t, err)
}

func TestGetOrCreateTokenUserUsesCounter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("USER", "12345").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))
	mock.ExpectQuery(`UPDATE user_id_counter`).
		WillReturnRows(sqlmock.NewRows([]string{"next_value"}).AddRow(int64(9999000042)))
	mock.ExpectExec(`INSERT INTO token_mappings`).
		WithArgs("9999000042", "12345", "USER").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT token FROM token_mappings`).
		WithArgs("USER", "12345").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("9999000042"))

	token, err := store.GetOrCreateToken(context.Background(), "12345", pii.FieldTypeUser)
	require.NoError(t, err)
	assert.Equal(t, "9999000042", token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextUserID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE user_id_counter`).
		WillReturnRows(sqlmock.NewRows([]string{"next_value"}).AddRow(int64(9999000000)))

	id, err := store.NextUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9999000000), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRealUnknownToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("user_nosuch@other.com").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}))

	_, ok, err := store.LookupReal(context.Background(), "user_nosuch@other.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterMappingInsertsTokenAndSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO token_mappings`).
		WithArgs("user_aa11bb@gmail.com", "jane@gmail.com", "EMAIL").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO token_mappings`).
		WithArgs("user_aa11bb@gmail.com", "jane@gmail.com", "EMAIL").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO session_mappings`).
		WithArgs("sess_1", "user_aa11bb@gmail.com", "12345", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RegisterMapping(context.Background(), "sess_1",
		map[string]string{"user_aa11bb@gmail.com": "Jane@Gmail.com"}, "12345")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterMappingRequiresSessionAndTokens(t *testing.T) {
	store, _ := newMockStore(t)

	err := store.RegisterMapping(context.Background(), "", map[string]string{"t": "v"}, "")
	assert.Error(t, err)

	err = store.RegisterMapping(context.Background(), "sess_1", nil, "")
	assert.Error(t, err)
}

func TestSessionMapping(t *testing.T) {
	store, mock := newMockStore(t)

	soon := time.Now().Add(10 * time.Minute)
	later := time.Now().Add(50 * time.Minute)
	mock.ExpectQuery(`SELECT sm.token, tm.real_value`).
		WithArgs("sess_1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "real_value", "expires_at"}).
			AddRow("user_aa11bb@gmail.com", "jane@gmail.com", later).
			AddRow("9999000042", "12345", soon))

	mapping, ttl, err := store.SessionMapping(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"user_aa11bb@gmail.com": "jane@gmail.com",
		"9999000042":            "12345",
	}, mapping)

	// The earliest row bounds the lifetime, not the latest.
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestSessionMappingEmptySessionHasNoLifetime(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT sm.token, tm.real_value`).
		WithArgs("sess_gone").
		WillReturnRows(sqlmock.NewRows([]string{"token", "real_value", "expires_at"}))

	mapping, ttl, err := store.SessionMapping(context.Background(), "sess_gone")
	require.NoError(t, err)
	assert.Empty(t, mapping)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestSweepExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM session_mappings`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFieldTypeFromToken(t *testing.T) {
	tests := []struct {
		token string
		want  pii.FieldType
	}{
		{"user_ab12cd@gmail.com", pii.FieldTypeEmail},
		{"user_ab12cd@other.com", pii.FieldTypeEmail},
		{"10.0.12.34", pii.FieldTypeIP},
		{"07700123456", pii.FieldTypePhone},
		{"ZZ3F 9ZZ", pii.FieldTypePostcode},
		{"9991234567", pii.FieldTypeUser},
		{"9999000042", pii.FieldTypeUser},
		{"LOCATION_ab12cd", pii.FieldTypeLocation},
		{"EMAIL_ab12cd34", pii.FieldTypeEmail},
		{"Member_aabb00", pii.FieldTypeName},
		{"something else", pii.FieldTypeName},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FieldTypeFromToken(tt.token), "token %q", tt.token)
	}
}
