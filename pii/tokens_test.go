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

package pii

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMintEmailTokenKeepsPublicDomain(t *testing.T) {
	token := MintEmailToken("jane.doe@gmail.com")
	assert.Regexp(t, `^user_[a-f0-9]{6}@gmail\.com$`, token)
}

func TestMintEmailTokenCollapsesPrivateDomain(t *testing.T) {
	token := MintEmailToken("jane@some-employer.co.uk")
	assert.Regexp(t, `^user_[a-f0-9]{6}@other\.com$`, token)
}

func TestMintEmailTokenHandlesMissingAt(t *testing.T) {
	token := MintEmailToken("not-an-email")
	assert.Regexp(t, `^user_[a-f0-9]{6}@other\.com$`, token)
}

func TestMintEmailTokenDomainCaseInsensitive(t *testing.T) {
	token := MintEmailToken("Jane@GMAIL.COM")
	assert.True(t, strings.HasSuffix(token, "@gmail.com"), "got %q", token)
}

func TestMintIPTokenShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		token := MintIPToken()
		assert.Regexp(t, `^10\.0\.\d{1,3}\.\d{1,3}$`, token)
	}
}

func TestMintPhoneTokenShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		token := MintPhoneToken()
		assert.Regexp(t, `^07700\d{6}$`, token)
	}
}

func TestMintPostcodeTokenShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		token := MintPostcodeToken()
		assert.Regexp(t, `^ZZ[A-F0-9]{2} 9ZZ$`, token)
	}
}

func TestMintNameTokenShape(t *testing.T) {
	pattern := regexp.MustCompile(`^(User|Person|Member|Freecycler|Helper|Volunteer)_[a-f0-9]{6}$`)
	for i := 0; i < 50; i++ {
		token := MintNameToken()
		assert.True(t, pattern.MatchString(token), "got %q", token)
	}
}

func TestMintSessionUserTokenNeverCollidesWithCounter(t *testing.T) {
	for i := 0; i < 200; i++ {
		token := MintSessionUserToken()
		assert.Len(t, token, 11)
		assert.True(t, strings.HasPrefix(token, "999"), "got %q", token)
		// Counter-issued IDs all start 9999.
		assert.False(t, strings.HasPrefix(token, "9999"), "got %q", token)
	}
}

func TestMintGenericTokenShape(t *testing.T) {
	token := MintGenericToken(FieldTypeLocation)
	assert.Regexp(t, `^LOCATION_[a-f0-9]{6}$`, token)
}

func TestMintedTokensAreRecognizedAsTokens(t *testing.T) {
	mints := []string{
		MintEmailToken("jane@gmail.com"),
		MintIPToken(),
		MintPhoneToken(),
		MintPostcodeToken(),
		MintNameToken(),
		MintSessionUserToken(),
		MintGenericToken(FieldTypeLocation),
	}
	for _, token := range mints {
		assert.True(t, IsToken(token), "minted token %q not recognized", token)
	}
}
