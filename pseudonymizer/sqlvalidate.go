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
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// maxQueryLimit caps result set size regardless of what the query asks for
const maxQueryLimit = 500

// dangerousKeywords are rejected anywhere in a query, even quoted.
// False positives on quoted text are acceptable; the AI client can
// rephrase, whereas a missed keyword cannot be taken back.
var dangerousKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"REPLACE", "GRANT", "REVOKE", "CALL", "EXEC", "EXECUTE",
	"INTO OUTFILE", "INTO DUMPFILE", "LOAD_FILE", "LOAD DATA",
}

var (
	selectClausePattern = regexp.MustCompile(`(?is)SELECT\s+(.*?)\s+FROM`)
	fromTablePattern    = regexp.MustCompile(`(?i)\bFROM\s+([a-z_][a-z0-9_]*)(?:\s+(?:AS\s+)?([a-z_][a-z0-9_]*))?`)
	joinTablePattern    = regexp.MustCompile(`(?i)\b(?:INNER\s+|LEFT\s+|RIGHT\s+|OUTER\s+|CROSS\s+)?JOIN\s+([a-z_][a-z0-9_]*)(?:\s+(?:AS\s+)?([a-z_][a-z0-9_]*))?`)
	selectCountPattern  = regexp.MustCompile(`(?i)\bSELECT\b`)
	limitPattern        = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)
	aggregatePattern    = regexp.MustCompile(`(?i)^(COUNT|SUM|AVG|MIN|MAX|GROUP_CONCAT)\s*\(`)
	aggregateArgPattern = regexp.MustCompile(`(?i)\(([a-z_][a-z0-9_.]*|\*)\)`)
	columnAliasPattern  = regexp.MustCompile(`(?i)^([a-z_][a-z0-9_.]*)\s+(?:AS\s+)?([a-z_][a-z0-9_]*)$`)
	tableStarPattern    = regexp.MustCompile(`(?i)^[a-z_][a-z0-9_]*\.\*$`)
)

// sqlKeywordsNotAliases stops FROM/JOIN clause keywords being mistaken
// for table aliases
var sqlKeywordsNotAliases = map[string]bool{
	"inner": true, "left": true, "right": true, "outer": true, "cross": true,
	"join": true, "on": true, "where": true, "order": true, "group": true,
	"having": true, "limit": true,
}

// ColumnRef is a resolved column reference within a validated query
type ColumnRef struct {
	Table  string
	Column string
	Alias  string
}

// ValidatedQuery is the outcome of SQL validation: the possibly rewritten
// query (LIMIT clamped) plus the resolved tables and columns, which drive
// result pseudonymization.
type ValidatedQuery struct {
	SQL     string
	Tables  []string
	Columns []ColumnRef
}

func sqlValidationError(format string, args ...interface{}) error {
	return NewServiceError(CodeSQLValidationError, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// ValidateSQL checks a query against the whitelist: SELECT only, no
// dangerous keywords, no subqueries, every table and column allowed, and
// a LIMIT no higher than the cap. Returns the resolved column set so row
// pseudonymization knows each value's privacy class.
func ValidateSQL(sqlText string) (*ValidatedQuery, error) {
	normalized := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(normalized)

	if !strings.HasPrefix(upper, "SELECT") {
		return nil, sqlValidationError("only SELECT queries are allowed")
	}

	for _, keyword := range dangerousKeywords {
		pattern := regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(keyword, " ", `\s+`) + `\b`)
		if pattern.MatchString(normalized) {
			return nil, sqlValidationError("forbidden keyword: %s", keyword)
		}
	}

	if len(selectCountPattern.FindAllString(normalized, -1)) > 1 {
		return nil, sqlValidationError("subqueries are not supported")
	}

	tables, aliasMap := extractTables(normalized)
	if len(tables) == 0 {
		return nil, sqlValidationError("no tables found in query")
	}

	for _, table := range tables {
		if !isTableAllowed(table) {
			return nil, sqlValidationError("table '%s' is not allowed. Allowed tables: %s",
				table, strings.Join(allowedTables(), ", "))
		}
	}

	columns, err := extractColumns(normalized, tables, aliasMap)
	if err != nil {
		return nil, err
	}

	for _, col := range columns {
		if _, ok := columnPrivacy(col.Table, col.Column); !ok {
			return nil, sqlValidationError("column '%s' is not allowed on table '%s'. Allowed columns: %s",
				col.Column, col.Table, strings.Join(allowedColumns(col.Table), ", "))
		}
	}

	finalSQL := normalized
	if m := limitPattern.FindStringSubmatch(normalized); m == nil {
		finalSQL = normalized + " LIMIT " + strconv.Itoa(maxQueryLimit)
	} else if requested, _ := strconv.Atoi(m[1]); requested > maxQueryLimit {
		finalSQL = limitPattern.ReplaceAllString(normalized, "LIMIT "+strconv.Itoa(maxQueryLimit))
	}

	return &ValidatedQuery{SQL: finalSQL, Tables: tables, Columns: columns}, nil
}

// extractTables finds the FROM and JOIN tables plus an alias map
func extractTables(sqlText string) ([]string, map[string]string) {
	var tables []string
	aliasMap := make(map[string]string)
	seen := make(map[string]bool)

	addTable := func(name, alias string) {
		name = strings.ToLower(name)
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
		if alias != "" {
			alias = strings.ToLower(alias)
			if !sqlKeywordsNotAliases[alias] {
				aliasMap[alias] = name
			}
		}
	}

	if m := fromTablePattern.FindStringSubmatch(sqlText); m != nil {
		addTable(m[1], m[2])
	}
	for _, m := range joinTablePattern.FindAllStringSubmatch(sqlText, -1) {
		addTable(m[1], m[2])
	}

	return tables, aliasMap
}

// extractColumns resolves the SELECT clause to concrete (table, column)
// pairs. SELECT * expands to every allowed column of every table in the
// query, which keeps the star form usable without widening the whitelist.
func extractColumns(sqlText string, tables []string, aliasMap map[string]string) ([]ColumnRef, error) {
	m := selectClausePattern.FindStringSubmatch(sqlText)
	if m == nil {
		return nil, sqlValidationError("could not parse SELECT clause")
	}
	selectClause := strings.TrimSpace(m[1])

	if selectClause == "*" {
		var columns []ColumnRef
		for _, table := range tables {
			for _, col := range allowedColumns(table) {
				columns = append(columns, ColumnRef{Table: table, Column: col})
			}
		}
		return columns, nil
	}

	if tableStarPattern.MatchString(selectClause) {
		table := strings.ToLower(strings.TrimSuffix(selectClause, ".*"))
		if real, ok := aliasMap[table]; ok {
			table = real
		}
		if !containsString(tables, table) {
			return nil, sqlValidationError("table '%s' not in FROM clause", table)
		}
		var columns []ColumnRef
		for _, col := range allowedColumns(table) {
			columns = append(columns, ColumnRef{Table: table, Column: col})
		}
		return columns, nil
	}

	var columns []ColumnRef
	for _, part := range splitColumnList(selectClause) {
		trimmed := strings.TrimSpace(part)

		if aggregatePattern.MatchString(trimmed) {
			if arg := aggregateArgPattern.FindStringSubmatch(trimmed); arg != nil && arg[1] != "*" {
				if ref, ok := parseColumnRef(arg[1], tables, aliasMap); ok {
					columns = append(columns, ref)
				}
			}
			continue
		}

		if m := columnAliasPattern.FindStringSubmatch(trimmed); m != nil {
			if ref, ok := parseColumnRef(m[1], tables, aliasMap); ok {
				ref.Alias = strings.ToLower(m[2])
				columns = append(columns, ref)
			}
			continue
		}

		if ref, ok := parseColumnRef(trimmed, tables, aliasMap); ok {
			columns = append(columns, ref)
		}
	}

	return columns, nil
}

// splitColumnList splits a SELECT clause on commas outside parentheses
func splitColumnList(selectClause string) []string {
	var parts []string
	var current strings.Builder
	depth := 0

	for _, ch := range selectClause {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				parts = append(parts, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}

	return parts
}

// parseColumnRef resolves one column reference, following table aliases.
// A bare column name binds to the first queried table that allows it.
func parseColumnRef(ref string, tables []string, aliasMap map[string]string) (ColumnRef, bool) {
	trimmed := strings.TrimSpace(ref)

	if strings.Contains(trimmed, ".") {
		parts := strings.SplitN(trimmed, ".", 2)
		table := strings.ToLower(parts[0])
		if real, ok := aliasMap[table]; ok {
			table = real
		}
		return ColumnRef{Table: table, Column: strings.ToLower(parts[1])}, true
	}

	for _, table := range tables {
		if _, ok := columnPrivacy(table, trimmed); ok {
			return ColumnRef{Table: strings.ToLower(table), Column: strings.ToLower(trimmed)}, true
		}
	}

	return ColumnRef{}, false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
