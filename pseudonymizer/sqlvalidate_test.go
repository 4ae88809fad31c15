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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSQLRejectsNonSelect(t *testing.T) {
	tests := []string{
		"UPDATE users SET firstname = 'x'",
		"DELETE FROM users",
		"DROP TABLE users",
		"  insert into users (id) values (1)",
		"SHOW TABLES",
	}
	for _, q := range tests {
		_, err := ValidateSQL(q)
		assert.Error(t, err, "query %q must be rejected", q)
	}
}

func TestValidateSQLRejectsDangerousKeywords(t *testing.T) {
	tests := []string{
		"SELECT id FROM users WHERE firstname = 'x'; DROP TABLE users",
		"SELECT id FROM users INTO OUTFILE '/tmp/x'",
		"SELECT LOAD_FILE('/etc/passwd') FROM users",
	}
	for _, q := range tests {
		_, err := ValidateSQL(q)
		require.Error(t, err, "query %q must be rejected", q)
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, CodeSQLValidationError, svcErr.Code)
		assert.Equal(t, 400, svcErr.Status)
	}
}

func TestValidateSQLRejectsSubqueries(t *testing.T) {
	_, err := ValidateSQL("SELECT id FROM users WHERE id IN (SELECT userid FROM memberships)")
	assert.Error(t, err)
}

func TestValidateSQLRejectsUnknownTable(t *testing.T) {
	_, err := ValidateSQL("SELECT id FROM secrets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestValidateSQLRejectsDisallowedColumn(t *testing.T) {
	_, err := ValidateSQL("SELECT users.password FROM users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestValidateSQLAppendsLimit(t *testing.T) {
	v, err := ValidateSQL("SELECT id FROM users")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(v.SQL, "LIMIT 500"), "got %q", v.SQL)
}

func TestValidateSQLClampsLimit(t *testing.T) {
	v, err := ValidateSQL("SELECT id FROM users LIMIT 100000")
	require.NoError(t, err)
	assert.Contains(t, v.SQL, "LIMIT 500")
	assert.NotContains(t, v.SQL, "100000")
}

func TestValidateSQLKeepsSmallLimit(t *testing.T) {
	v, err := ValidateSQL("SELECT id FROM users LIMIT 10")
	require.NoError(t, err)
	assert.Contains(t, v.SQL, "LIMIT 10")
}

func TestValidateSQLResolvesAliases(t *testing.T) {
	v, err := ValidateSQL("SELECT u.id, u.firstname FROM users u JOIN memberships m ON m.userid = u.id LIMIT 5")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "memberships"}, v.Tables)
	assert.Contains(t, v.Columns, ColumnRef{Table: "users", Column: "id"})
	assert.Contains(t, v.Columns, ColumnRef{Table: "users", Column: "firstname"})
}

func TestValidateSQLExpandsStar(t *testing.T) {
	v, err := ValidateSQL("SELECT * FROM users LIMIT 5")
	require.NoError(t, err)
	require.NotEmpty(t, v.Columns)
	for _, col := range v.Columns {
		assert.Equal(t, "users", col.Table)
		_, ok := columnPrivacy("users", col.Column)
		assert.True(t, ok, "expanded column %s must be allowed", col.Column)
	}
}

func TestValidateSQLExpandsTableStar(t *testing.T) {
	v, err := ValidateSQL("SELECT u.* FROM users u LIMIT 5")
	require.NoError(t, err)
	require.NotEmpty(t, v.Columns)
	for _, col := range v.Columns {
		assert.Equal(t, "users", col.Table)
	}
}

func TestValidateSQLColumnAlias(t *testing.T) {
	v, err := ValidateSQL("SELECT users.firstname AS name FROM users LIMIT 5")
	require.NoError(t, err)
	require.Len(t, v.Columns, 1)
	assert.Equal(t, ColumnRef{Table: "users", Column: "firstname", Alias: "name"}, v.Columns[0])
}

func TestValidateSQLAggregates(t *testing.T) {
	v, err := ValidateSQL("SELECT COUNT(*) FROM messages LIMIT 1")
	require.NoError(t, err)
	assert.Empty(t, v.Columns)

	v, err = ValidateSQL("SELECT COUNT(users.id) FROM users LIMIT 1")
	require.NoError(t, err)
	require.Len(t, v.Columns, 1)
	assert.Equal(t, "id", v.Columns[0].Column)
}

func TestValidateSQLBareColumnBindsToQueriedTable(t *testing.T) {
	v, err := ValidateSQL("SELECT firstname FROM users LIMIT 5")
	require.NoError(t, err)
	require.Len(t, v.Columns, 1)
	assert.Equal(t, "users", v.Columns[0].Table)
}
