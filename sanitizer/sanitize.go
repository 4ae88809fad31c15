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
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

// KnownPII is the metadata of the operator-selected user. These values
// are tokenized first, before any pattern scan, because they are known
// PII even when no pattern would catch them. The user ID arrives as a
// bare number from some front-ends and as a string from others, so it
// decodes as json.Number to accept both.
type KnownPII struct {
	Email       string      `json:"email,omitempty"`
	DisplayName string      `json:"displayname,omitempty"`
	Postcode    string      `json:"postcode,omitempty"`
	Location    string      `json:"location,omitempty"`
	UserID      json.Number `json:"userid,omitempty"`
}

// knownField binds a KnownPII accessor to its field type. Slice order is
// the tokenization order: the most identifying fields go first so their
// tokens win when values overlap.
type knownField struct {
	fieldType pii.FieldType
	value     func(*KnownPII) string
}

var knownFields = []knownField{
	{pii.FieldTypeEmail, func(k *KnownPII) string { return k.Email }},
	{pii.FieldTypeName, func(k *KnownPII) string { return k.DisplayName }},
	{pii.FieldTypePostcode, func(k *KnownPII) string { return k.Postcode }},
	{pii.FieldTypeLocation, func(k *KnownPII) string { return k.Location }},
	{pii.FieldTypeUser, func(k *KnownPII) string { return k.UserID.String() }},
}

// TokenCache mints process-local tokens shaped like the real values
// they replace, so downstream consumers keep treating them as the same
// kind of data. The same normalized value always gets the same token
// within this process; durability comes from registering the mapping
// with the pseudonymizer, not from this cache.
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewTokenCache returns an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]string)}
}

// Token returns the token for a value, minting one on first sight
func (c *TokenCache) Token(fieldType pii.FieldType, value string) string {
	key := string(fieldType) + ":" + pii.Normalize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if token, ok := c.tokens[key]; ok {
		return token
	}
	token := mintToken(fieldType, value)
	c.tokens[key] = token
	return token
}

func mintToken(fieldType pii.FieldType, value string) string {
	switch fieldType {
	case pii.FieldTypeEmail:
		return pii.MintEmailToken(value)
	case pii.FieldTypeIP:
		return pii.MintIPToken()
	case pii.FieldTypePhone:
		return pii.MintPhoneToken()
	case pii.FieldTypePostcode:
		return pii.MintPostcodeToken()
	case pii.FieldTypeName:
		return pii.MintNameToken()
	case pii.FieldTypeUser:
		return pii.MintSessionUserToken()
	default:
		return pii.MintGenericToken(fieldType)
	}
}

// ExtractAndPseudonymize replaces PII in the query with tokens. Known
// PII fields are handled first by case-insensitive literal match, then
// the pattern scan covers anything the caller did not declare. Returns
// the rewritten query and the token to real value mapping to register.
func ExtractAndPseudonymize(query string, known *KnownPII, cache *TokenCache) (string, map[string]string) {
	mapping := make(map[string]string)
	result := query

	if known != nil {
		for _, f := range knownFields {
			value := strings.TrimSpace(f.value(known))
			if value == "" || pii.IsToken(value) {
				continue
			}
			literal := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value))
			if !literal.MatchString(result) {
				continue
			}
			token := cache.Token(f.fieldType, value)
			result = literal.ReplaceAllString(result, token)
			mapping[token] = value
		}
	}

	detector := pii.NewDetector()
	detections := detector.DetectAll(result)

	// Splice back to front so indices stay valid
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartIndex > detections[j].StartIndex
	})

	for _, d := range detections {
		// Numeric IDs are only tokenized when declared as known PII;
		// a bare digit run in a support query is too ambiguous.
		if d.Type == pii.FieldTypeUser {
			continue
		}
		token := cache.Token(d.Type, d.Value)
		result = result[:d.StartIndex] + token + result[d.EndIndex:]
		mapping[token] = d.Value
	}

	return result, mapping
}

// ScanForPII reports detections without rewriting anything. Known PII
// values found in the query are prepended with source selected_user.
func ScanForPII(query string, known *KnownPII) []pii.Detection {
	detector := pii.NewDetector()
	detections := detector.DetectAll(query)

	if known == nil {
		return detections
	}

	lowerQuery := strings.ToLower(query)
	prepend := func(fieldType pii.FieldType, value string) {
		if value == "" || !strings.Contains(lowerQuery, strings.ToLower(value)) {
			return
		}
		detections = append([]pii.Detection{{
			Type:     fieldType,
			Value:    value,
			Severity: pii.SeverityFor(fieldType),
			Source:   "selected_user",
		}}, detections...)
	}

	prepend(pii.FieldTypeEmail, known.Email)
	prepend(pii.FieldTypeName, known.DisplayName)

	return detections
}

// NewSessionID mints a sanitizer session identifier
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
