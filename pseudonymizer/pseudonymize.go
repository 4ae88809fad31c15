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
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

// geoFieldPattern matches "lat" and "lng" JSON fields with their numeric
// values, quoted or not
var geoFieldPattern = regexp.MustCompile(`"(lat|lng)"\s*:\s*"?(-?\d+\.\d+)"?`)

// geoPrecision truncates coordinates to roughly 1km, coarse enough that
// a rounded point no longer identifies a household
const geoPrecision = 2

// PseudonymizeText replaces every detected PII value in text with its
// stable token and coarsens any lat/lng coordinates. The same real value
// always yields the same token, in this call and every later one. On any
// store error the original text is abandoned; partially pseudonymized
// output must never leave the trust boundary.
func (s *Store) PseudonymizeText(ctx context.Context, text string) (string, []string, error) {
	detector := pii.NewDetector()
	detections := detector.DetectAll(text)

	// Splice replacements back to front so earlier indices stay valid
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartIndex > detections[j].StartIndex
	})

	result := text
	var tokensUsed []string
	for _, d := range detections {
		token, err := s.GetOrCreateToken(ctx, d.Value, d.Type)
		if err != nil {
			return "", nil, fmt.Errorf("pseudonymize %s: %w", d.Type, err)
		}
		result = result[:d.StartIndex] + token + result[d.EndIndex:]
		tokensUsed = append(tokensUsed, token)
	}

	return roundGeoFields(result), tokensUsed, nil
}

// roundGeoFields rewrites lat/lng JSON values to two decimal places
func roundGeoFields(text string) string {
	return geoFieldPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := geoFieldPattern.FindStringSubmatch(match)
		val, err := strconv.ParseFloat(sub[2], 64)
		if err != nil {
			return match
		}
		rounded := strconv.FormatFloat(val, 'f', geoPrecision, 64)
		return strings.Replace(match, sub[2], rounded, 1)
	})
}
