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
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// CommonEmailDomains are public mail providers. Keeping a public
// provider domain in an email token leaks nothing about the person and
// preserves the domain-level patterns support queries group by. Any
// other domain (employers, schools) is collapsed to other.com.
var CommonEmailDomains = map[string]bool{
	"gmail.com":       true,
	"googlemail.com":  true,
	"outlook.com":     true,
	"hotmail.com":     true,
	"live.com":        true,
	"msn.com":         true,
	"yahoo.com":       true,
	"yahoo.co.uk":     true,
	"icloud.com":      true,
	"me.com":          true,
	"mac.com":         true,
	"aol.com":         true,
	"protonmail.com":  true,
	"proton.me":       true,
	"btinternet.com":  true,
	"btopenworld.com": true,
	"sky.com":         true,
	"virginmedia.com": true,
	"talktalk.net":    true,
	"ntlworld.com":    true,
}

// nameRoles are the neutral role words used for display-name tokens
var nameRoles = []string{"User", "Person", "Member", "Freecycler", "Helper", "Volunteer"}

// UserIDCounterSeed is the first numeric ID the pseudonymizer's durable
// counter hands out. Values this large sit far above any real member ID,
// so a translated query can never collide with a real account.
const UserIDCounterSeed = 9999000000

func randomHex(n int) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return hex[:n]
}

// MintEmailToken produces user_<6 hex>@<domain>, where the domain
// survives only if it is a public provider
func MintEmailToken(realValue string) string {
	domain := "other.com"
	if at := strings.LastIndex(realValue, "@"); at >= 0 {
		d := strings.ToLower(strings.TrimSpace(realValue[at+1:]))
		if CommonEmailDomains[d] {
			domain = d
		}
	}
	return fmt.Sprintf("user_%s@%s", randomHex(6), domain)
}

// MintIPToken produces an address in 10.0.0.0/16, private space that is
// visually distinct from any real client address
func MintIPToken() string {
	return fmt.Sprintf("10.0.%d.%d", rand.Intn(256), rand.Intn(256))
}

// MintPhoneToken produces a number in the Ofcom-reserved 07700 drama range
func MintPhoneToken() string {
	return fmt.Sprintf("07700%06d", rand.Intn(1000000))
}

// MintPostcodeToken produces ZZ<2 hex uppercase> 9ZZ, an impossible UK
// postcode that still parses as one
func MintPostcodeToken() string {
	return fmt.Sprintf("ZZ%s 9ZZ", strings.ToUpper(randomHex(2)))
}

// MintNameToken produces <RoleWord>_<6 hex> for display names
func MintNameToken() string {
	return fmt.Sprintf("%s_%s", nameRoles[rand.Intn(len(nameRoles))], randomHex(6))
}

// MintSessionUserToken produces a random decimal USER token of the form
// 999 followed by a digit 0-8 and seven more digits. Counter-issued IDs
// always start 9999, so the two kinds can never collide.
func MintSessionUserToken() string {
	return fmt.Sprintf("999%d%07d", rand.Intn(9), rand.Intn(10000000))
}

// MintGenericToken is the fallback for field types without a dedicated
// shape, such as LOCATION
func MintGenericToken(fieldType FieldType) string {
	return fmt.Sprintf("%s_%s", fieldType, randomHex(6))
}
