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

package sanitizer

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

func TestExtractAndPseudonymizeKnownFields(t *testing.T) {
	cache := NewTokenCache()
	known := &KnownPII{
		Email:  "jane@example.com",
		UserID: "12345",
	}
	query := "Why did 12345 not get notified, their email is jane@example.com?"

	result, mapping := ExtractAndPseudonymize(query, known, cache)

	assert.NotContains(t, result, "12345")
	assert.NotContains(t, result, "jane@example.com")
	// Token shapes survive as the same kind of data: a decimal ID and an
	// email address, with the unrecognized domain collapsed.
	assert.Regexp(t, `999\d{8}`, result)
	assert.Regexp(t, `user_[a-f0-9]{6}@other\.com`, result)
	assert.Len(t, mapping, 2)
	for token, real := range mapping {
		assert.NotEqual(t, token, real)
	}
}

func TestExtractAndPseudonymizeStableWithinProcess(t *testing.T) {
	cache := NewTokenCache()
	known := &KnownPII{Email: "jane@gmail.com"}

	first, _ := ExtractAndPseudonymize("mail jane@gmail.com please", known, cache)
	second, _ := ExtractAndPseudonymize("jane@gmail.com wrote in again", known, cache)

	tokenPattern := regexp.MustCompile(`user_[a-f0-9]{6}@gmail\.com`)
	assert.Equal(t, tokenPattern.FindString(first), tokenPattern.FindString(second))
}

func TestExtractAndPseudonymizeCaseInsensitiveKnownMatch(t *testing.T) {
	cache := NewTokenCache()
	known := &KnownPII{Email: "jane@gmail.com"}

	result, mapping := ExtractAndPseudonymize("complaint from Jane@Gmail.com", known, cache)
	assert.NotContains(t, strings.ToLower(result), "jane@gmail.com")
	assert.Len(t, mapping, 1)
}

func TestExtractAndPseudonymizePatternScanCatchesUndeclared(t *testing.T) {
	cache := NewTokenCache()

	result, mapping := ExtractAndPseudonymize("user at 192.168.1.9 reported spam from bob@hotmail.com", nil, cache)

	assert.NotContains(t, result, "192.168.1.9")
	assert.NotContains(t, result, "bob@hotmail.com")
	assert.Regexp(t, `10\.0\.\d{1,3}\.\d{1,3}`, result)
	assert.Regexp(t, `user_[a-f0-9]{6}@hotmail\.com`, result)
	assert.Len(t, mapping, 2)
}

func TestExtractAndPseudonymizeLeavesBareNumbersAlone(t *testing.T) {
	cache := NewTokenCache()

	// Digit runs are only tokenized when declared as the selected user.
	result, mapping := ExtractAndPseudonymize("order 8675309 was delayed", nil, cache)
	assert.Contains(t, result, "8675309")
	assert.Empty(t, mapping)
}

func TestExtractAndPseudonymizeSkipsTokenValues(t *testing.T) {
	cache := NewTokenCache()
	known := &KnownPII{Email: "user_aa11bb@gmail.com"}

	result, mapping := ExtractAndPseudonymize("check user_aa11bb@gmail.com", known, cache)
	assert.Contains(t, result, "user_aa11bb@gmail.com")
	assert.Empty(t, mapping)
}

func TestScanForPIIPrependsKnownValues(t *testing.T) {
	known := &KnownPII{
		Email:       "jane@gmail.com",
		DisplayName: "Jane",
	}
	detections := ScanForPII("Jane said her address jane@gmail.com bounces", known)

	require.NotEmpty(t, detections)
	assert.Equal(t, pii.FieldTypeName, detections[0].Type)
	assert.Equal(t, "selected_user", detections[0].Source)
	assert.Equal(t, pii.FieldTypeEmail, detections[1].Type)
	assert.Equal(t, "selected_user", detections[1].Source)
}

func TestScanForPIISkipsAbsentKnownValues(t *testing.T) {
	known := &KnownPII{Email: "jane@gmail.com", DisplayName: "Jane"}
	detections := ScanForPII("no names here", known)
	assert.Empty(t, detections)
}

func TestTokenCacheMintsShapeByFieldType(t *testing.T) {
	cache := NewTokenCache()

	assert.Regexp(t, `^user_[a-f0-9]{6}@gmail\.com$`, cache.Token(pii.FieldTypeEmail, "x@gmail.com"))
	assert.Regexp(t, `^10\.0\.\d{1,3}\.\d{1,3}$`, cache.Token(pii.FieldTypeIP, "8.8.8.8"))
	assert.Regexp(t, `^07700\d{6}$`, cache.Token(pii.FieldTypePhone, "07911 123456"))
	assert.Regexp(t, `^ZZ[A-F0-9]{2} 9ZZ$`, cache.Token(pii.FieldTypePostcode, "SW1A 1AA"))
	assert.Regexp(t, `^999\d{8}$`, cache.Token(pii.FieldTypeUser, "12345"))
	assert.Regexp(t, `^LOCATION_[a-f0-9]{6}$`, cache.Token(pii.FieldTypeLocation, "Edinburgh"))
}

func TestTokenCacheNormalizesKey(t *testing.T) {
	cache := NewTokenCache()
	first := cache.Token(pii.FieldTypeEmail, "Jane@Gmail.com")
	second := cache.Token(pii.FieldTypeEmail, " jane@gmail.com ")
	assert.Equal(t, first, second)
}

func TestNewSessionIDShape(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.Regexp(t, `^sess_[a-f0-9]{8}$`, a)
	assert.NotEqual(t, a, b)
}
