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
	"sort"

	"github.com/Freegle/FreegleDocker-sub004/pii"
)

type tokenSpan struct {
	start, end int
	token      string
}

// TranslateQuery replaces every known token in the query text with its
// real value so the backend sees real identifiers. Replacement happens
// at the scanned offsets only; a token that also occurs as a substring
// of some longer run stays put there. Token-shaped strings the store
// has never seen are left untouched: an unknown token simply matches
// nothing in the backend, which is safer than failing the whole query
// and also covers tokens minted by other instances mid-flight.
func (s *Store) TranslateQuery(ctx context.Context, query string) (string, []string, error) {
	var spans []tokenSpan
	for _, p := range pii.TokenScanPatterns() {
		for _, loc := range p.FindAllStringIndex(query, -1) {
			spans = append(spans, tokenSpan{loc[0], loc[1], query[loc[0]:loc[1]]})
		}
	}

	// Splice back to front so earlier offsets stay valid.
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start > spans[j].start
	})

	reals := make(map[string]string)
	known := make(map[string]bool)
	used := make(map[string]bool)

	translated := query
	spliced := len(query)
	var tokensUsed []string
	for _, sp := range spans {
		if sp.end > spliced {
			// Overlaps a span another pattern already replaced.
			continue
		}
		if _, looked := known[sp.token]; !looked {
			real, ok, err := s.LookupReal(ctx, sp.token)
			if err != nil {
				return "", nil, err
			}
			known[sp.token] = ok
			reals[sp.token] = real
		}
		if !known[sp.token] {
			continue
		}
		translated = translated[:sp.start] + reals[sp.token] + translated[sp.end:]
		spliced = sp.start
		if !used[sp.token] {
			used[sp.token] = true
			tokensUsed = append(tokensUsed, sp.token)
		}
	}

	return translated, tokensUsed, nil
}
