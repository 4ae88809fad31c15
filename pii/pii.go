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

// Package pii holds the detection rules shared by the sanitizer and the
// pseudonymizer: the ordered PII pattern table, the mail-trail heuristics,
// and the token shape recognizers. The package is stateless; anything that
// mints or stores tokens lives in the pseudonymizer.
package pii

import (
	"regexp"
	"strings"
)

// FieldType classifies a piece of PII. The token minted for a value encodes
// its field type in its shape, so downstream code can recognize tokens
// without a lookup.
type FieldType string

const (
	FieldTypeEmail    FieldType = "EMAIL"
	FieldTypeIP       FieldType = "IP"
	FieldTypePhone    FieldType = "PHONE"
	FieldTypePostcode FieldType = "POSTCODE"
	FieldTypeUser     FieldType = "USER"
	FieldTypeName     FieldType = "NAME"
	FieldTypeLocation FieldType = "LOCATION"
)

// Severity indicates how identifying a detected value is
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Detection is a single PII hit within a piece of text
type Detection struct {
	Type       FieldType `json:"type"`
	Value      string    `json:"value"`
	Severity   Severity  `json:"severity"`
	Source     string    `json:"source,omitempty"`
	StartIndex int       `json:"startIndex"`
	EndIndex   int       `json:"endIndex"`
}

// Pattern pairs a compiled regex with its field type. Patterns run in slice
// order and earlier matches mask the text seen by later patterns, so the
// email pattern always wins over the digit patterns it overlaps with.
type Pattern struct {
	Type     FieldType
	Severity Severity
	Regex    *regexp.Regexp
}

// Timestamps in log text are runs of 13+ digits and must not be mistaken
// for numeric user IDs.
const timestampDigits = 13

// orderedPatterns is the detection precedence. Order is load-bearing:
// emails contain digit runs, phone numbers contain digit runs, so the more
// specific shapes run first and numeric user IDs run last.
var orderedPatterns = []Pattern{
	{FieldTypeEmail, SeverityHigh, regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)},
	{FieldTypeIP, SeverityMedium, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{FieldTypePhone, SeverityHigh, regexp.MustCompile(`(?:\+44|\b0)\s*\d{2,4}\s*\d{3,4}\s*\d{3,4}\b`)},
	{FieldTypePostcode, SeverityMedium, regexp.MustCompile(`\b[A-Z]{1,2}\d{1,2}[A-Z]?\s*\d[A-Z]{2}\b`)},
	{FieldTypeUser, SeverityMedium, regexp.MustCompile(`\b\d{6,}\b`)},
}

// mailTrailPatterns recognize quoted email trails and signatures. Text that
// matches any of these is rejected outright rather than tokenized, because
// trails carry too much correlated PII to sanitize reliably.
var mailTrailPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^From:.*@`),
	regexp.MustCompile(`(?im)^To:.*@`),
	regexp.MustCompile(`(?im)^Cc:.*@`),
	regexp.MustCompile(`(?im)^Subject:`),
	regexp.MustCompile(`(?im)^Date:.*\d{4}`),
	regexp.MustCompile(`(?i)On .* wrote:`),
	regexp.MustCompile(`(?i)From: .* <.*@.*>`),
	regexp.MustCompile(`(?i)-{3,}.*Original Message`),
	regexp.MustCompile(`(?i)Sent from my iPhone`),
	regexp.MustCompile(`(?i)Sent from my Android`),
}

// tokenShapePatterns recognize values that are already tokens. A value
// matching any of these is never re-tokenized and never treated as real PII.
var tokenShapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^user_[a-f0-9]{6}@[\w.-]+$`),
	regexp.MustCompile(`^10\.0\.\d{1,3}\.\d{1,3}$`),
	regexp.MustCompile(`^07700\d{6}$`),
	regexp.MustCompile(`^ZZ[A-F0-9]{2}\s*9ZZ$`),
	regexp.MustCompile(`^999\d{7,}$`),
	regexp.MustCompile(`^(?:User|Person|Member|Freecycler|Helper|Volunteer)_[a-f0-9]{6}$`),
	regexp.MustCompile(`^(?:EMAIL|IP|PHONE|POSTCODE|NAME|USER|LOCATION)_[a-f0-9]{6,8}$`),
}

// tokenScanPatterns are the unanchored forms of the token shapes, used to
// locate token occurrences inside query text during translation.
var tokenScanPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:EMAIL|IP|PHONE|POSTCODE|NAME|USER|LOCATION)_[a-f0-9]{6,8}`),
	regexp.MustCompile(`user_[a-f0-9]{6}@[\w.-]+\.\w+`),
	regexp.MustCompile(`\b10\.0\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`\b07700\d{6}\b`),
	regexp.MustCompile(`\bZZ[A-F0-9]{2}\s*9ZZ\b`),
	regexp.MustCompile(`\b999\d{7,}\b`),
	regexp.MustCompile(`(?:User|Person|Member|Freecycler|Helper|Volunteer)_[a-f0-9]{6}`),
}

// TokenScanPatterns returns the regexes that locate token-shaped substrings
// inside free text. Callers must not mutate the returned slice.
func TokenScanPatterns() []*regexp.Regexp {
	return tokenScanPatterns
}

// Detector scans text for PII using the ordered pattern table
type Detector struct {
	patterns []Pattern
}

// NewDetector returns a detector with the standard pattern set
func NewDetector() *Detector {
	return &Detector{patterns: orderedPatterns}
}

// DetectAll finds every PII occurrence in text. Matched spans are masked
// before later patterns run, so each character belongs to at most one
// detection. Values that are already tokens are skipped.
func (d *Detector) DetectAll(text string) []Detection {
	masked := []byte(text)
	var results []Detection

	for _, p := range d.patterns {
		locs := p.Regex.FindAllIndex(masked, -1)
		for _, loc := range locs {
			value := text[loc[0]:loc[1]]
			if p.Type == FieldTypeUser && len(value) >= timestampDigits {
				continue
			}
			if IsToken(value) {
				// Already a token. Mask it so later patterns cannot
				// match fragments of it, but report nothing.
				for i := loc[0]; i < loc[1]; i++ {
					masked[i] = '*'
				}
				continue
			}
			results = append(results, Detection{
				Type:       p.Type,
				Value:      value,
				Severity:   p.Severity,
				StartIndex: loc[0],
				EndIndex:   loc[1],
			})
			for i := loc[0]; i < loc[1]; i++ {
				masked[i] = '*'
			}
		}
	}

	return results
}

// HasPII reports whether text contains at least one detectable PII value
func (d *Detector) HasPII(text string) bool {
	return len(d.DetectAll(text)) > 0
}

// ContainsEmailTrail reports whether text looks like a pasted email trail
// (quoted headers, reply markers, mobile signatures)
func ContainsEmailTrail(text string) bool {
	for _, p := range mailTrailPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsToken reports whether value already has one of the recognized token
// shapes and so must not be tokenized again
func IsToken(value string) bool {
	v := strings.TrimSpace(value)
	for _, p := range tokenShapePatterns {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

// Normalize canonicalizes a real value before lookup or storage, so case
// and whitespace variants of the same value map to one token
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// SeverityFor returns the severity the pattern table assigns to a field
// type. Known-PII fields supplied by the caller use the same scale.
func SeverityFor(t FieldType) Severity {
	switch t {
	case FieldTypeEmail, FieldTypePhone, FieldTypeName:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
