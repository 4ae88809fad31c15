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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateQueryReplacesKnownTokens(t *testing.T) {
	store, mock := newMockStore(t)

	// Spans are replaced back to front, so the later token is looked
	// up first.
	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("9999000042").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}).AddRow("12345"))
	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("user_aa11bb@gmail.com").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}).AddRow("jane@gmail.com"))

	query := `{app="fd"} |= "user_aa11bb@gmail.com" |= "9999000042"`
	translated, tokensUsed, err := store.TranslateQuery(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, `{app="fd"} |= "jane@gmail.com" |= "12345"`, translated)
	assert.ElementsMatch(t, []string{"user_aa11bb@gmail.com", "9999000042"}, tokensUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateQueryLeavesUnknownTokens(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("user_deadbe@other.com").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}))

	query := `search for user_deadbe@other.com`
	translated, tokensUsed, err := store.TranslateQuery(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, query, translated)
	assert.Empty(t, tokensUsed)
}

func TestTranslateQueryNoTokens(t *testing.T) {
	store, _ := newMockStore(t)

	query := `{app="fd"} |= "error"`
	translated, tokensUsed, err := store.TranslateQuery(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, query, translated)
	assert.Empty(t, tokensUsed)
}

func TestTranslateQueryLeavesEmbeddedOccurrencesAlone(t *testing.T) {
	store, mock := newMockStore(t)

	// 99912345678 contains the known token as a prefix but is itself a
	// different candidate; only the standalone occurrence may change.
	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("99912345678").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}))
	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("9991234567").
		WillReturnRows(sqlmock.NewRows([]string{"real_value"}).AddRow("12345"))

	query := `who is 9991234567 and what is 99912345678`
	translated, tokensUsed, err := store.TranslateQuery(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, `who is 12345 and what is 99912345678`, translated)
	assert.Equal(t, []string{"9991234567"}, tokensUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateQueryStoreErrorFailsClosed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT real_value FROM token_mappings`).
		WithArgs("9999000042").
		WillReturnError(assert.AnError)

	_, _, err := store.TranslateQuery(context.Background(), `who is 9999000042`)
	assert.Error(t, err)
}
