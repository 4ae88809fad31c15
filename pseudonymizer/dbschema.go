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
	"sort"
	"strings"
)

// ColumnPrivacy classifies a whitelisted column. PUBLIC values pass
// through to the AI client unchanged; SENSITIVE values are tokenized.
type ColumnPrivacy string

const (
	PrivacyPublic    ColumnPrivacy = "PUBLIC"
	PrivacySensitive ColumnPrivacy = "SENSITIVE"
)

// dbSchema is the whitelist of tables and columns the relational backend
// may be queried for. Anything not listed here is rejected before the
// query reaches MySQL. The privacy class decides pseudonymization of
// result values, not query validity.
var dbSchema = map[string]map[string]ColumnPrivacy{
	"users": {
		"id": PrivacyPublic, "firstname": PrivacySensitive, "lastname": PrivacySensitive,
		"fullname": PrivacySensitive, "systemrole": PrivacyPublic, "added": PrivacyPublic,
		"lastaccess": PrivacyPublic, "bouncing": PrivacyPublic, "deleted": PrivacyPublic,
		"engagement": PrivacyPublic, "trustlevel": PrivacyPublic, "chatmodstatus": PrivacyPublic,
		"newsfeedmodstatus": PrivacyPublic, "lastupdated": PrivacyPublic,
	},
	"users_emails": {
		"id": PrivacyPublic, "userid": PrivacyPublic, "email": PrivacySensitive,
		"preferred": PrivacyPublic, "added": PrivacyPublic, "validated": PrivacyPublic,
		"bounced": PrivacyPublic, "viewed": PrivacyPublic,
	},
	"messages": {
		"id": PrivacyPublic, "arrival": PrivacyPublic, "date": PrivacyPublic,
		"deleted": PrivacyPublic, "source": PrivacyPublic, "fromip": PrivacySensitive,
		"fromcountry": PrivacyPublic, "fromuser": PrivacyPublic, "fromname": PrivacySensitive,
		"fromaddr": PrivacySensitive, "subject": PrivacyPublic, "suggestedsubject": PrivacyPublic,
		"type": PrivacyPublic, "lat": PrivacyPublic, "lng": PrivacyPublic,
		"locationid": PrivacyPublic, "availableinitially": PrivacyPublic,
		"availablenow": PrivacyPublic, "spamtype": PrivacyPublic, "spamreason": PrivacyPublic,
		"heldby": PrivacyPublic, "editedby": PrivacyPublic, "editedat": PrivacyPublic,
	},
	"messages_groups": {
		"id": PrivacyPublic, "msgid": PrivacyPublic, "groupid": PrivacyPublic,
		"collection": PrivacyPublic, "arrival": PrivacyPublic, "autoreposts": PrivacyPublic,
		"lastautopostwarning": PrivacyPublic, "lastchaseup": PrivacyPublic, "deleted": PrivacyPublic,
	},
	"messages_outcomes": {
		"id": PrivacyPublic, "msgid": PrivacyPublic, "outcome": PrivacyPublic,
		"timestamp": PrivacyPublic, "userid": PrivacyPublic, "happiness": PrivacyPublic,
		"comments": PrivacySensitive,
	},
	"chat_rooms": {
		"id": PrivacyPublic, "chattype": PrivacyPublic, "user1": PrivacyPublic,
		"user2": PrivacyPublic, "groupid": PrivacyPublic, "created": PrivacyPublic,
		"lastmsg": PrivacyPublic, "synctofacebook": PrivacyPublic,
	},
	"chat_messages": {
		"id": PrivacyPublic, "chatid": PrivacyPublic, "userid": PrivacyPublic,
		"type": PrivacyPublic, "reportreason": PrivacyPublic, "refmsgid": PrivacyPublic,
		"refchatid": PrivacyPublic, "imageid": PrivacyPublic, "date": PrivacyPublic,
		"message": PrivacySensitive, "platform": PrivacyPublic, "seenbyall": PrivacyPublic,
		"mailedtoall": PrivacyPublic, "reviewrequired": PrivacyPublic,
		"reviewedby": PrivacyPublic, "reviewrejected": PrivacyPublic, "deleted": PrivacyPublic,
	},
	"groups": {
		"id": PrivacyPublic, "nameshort": PrivacyPublic, "namefull": PrivacyPublic,
		"nameabbr": PrivacyPublic, "type": PrivacyPublic, "region": PrivacyPublic,
		"lat": PrivacyPublic, "lng": PrivacyPublic, "membercount": PrivacyPublic,
		"modcount": PrivacyPublic, "tagline": PrivacyPublic, "description": PrivacyPublic,
		"founded": PrivacyPublic, "publish": PrivacyPublic, "listable": PrivacyPublic,
		"onmap": PrivacyPublic, "onhere": PrivacyPublic, "contactmail": PrivacySensitive,
		"external": PrivacyPublic, "lastmoderated": PrivacyPublic, "lastmodactive": PrivacyPublic,
	},
	"memberships": {
		"id": PrivacyPublic, "userid": PrivacyPublic, "groupid": PrivacyPublic,
		"role": PrivacyPublic, "collection": PrivacyPublic, "configid": PrivacyPublic,
		"added": PrivacyPublic, "deleted": PrivacyPublic, "emailfrequency": PrivacyPublic,
		"eventsallowed": PrivacyPublic, "volunteeringallowed": PrivacyPublic,
		"ourpostingstatus": PrivacyPublic, "heldby": PrivacyPublic,
	},
	"memberships_history": {
		"id": PrivacyPublic, "userid": PrivacyPublic, "groupid": PrivacyPublic,
		"collection": PrivacyPublic, "added": PrivacyPublic,
	},
	"logs": {
		"id": PrivacyPublic, "timestamp": PrivacyPublic, "byuser": PrivacyPublic,
		"type": PrivacyPublic, "subtype": PrivacyPublic, "groupid": PrivacyPublic,
		"user": PrivacyPublic, "msgid": PrivacyPublic, "configid": PrivacyPublic,
		"bulkopid": PrivacyPublic, "text": PrivacySensitive,
	},
	"users_logins": {
		"id": PrivacyPublic, "userid": PrivacyPublic, "type": PrivacyPublic,
		"added": PrivacyPublic, "lastaccess": PrivacyPublic,
	},
	"users_active": {
		"userid": PrivacyPublic, "timestamp": PrivacyPublic,
	},
	"bounces": {
		"id": PrivacyPublic, "date": PrivacyPublic, "to": PrivacySensitive,
		"msg": PrivacySensitive, "permanent": PrivacyPublic,
	},
	"bounces_emails": {
		"id": PrivacyPublic, "emailid": PrivacyPublic, "date": PrivacyPublic,
		"reason": PrivacySensitive, "permanent": PrivacyPublic, "reset": PrivacyPublic,
	},
}

func allowedTables() []string {
	tables := make([]string, 0, len(dbSchema))
	for t := range dbSchema {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func allowedColumns(table string) []string {
	fields, ok := dbSchema[strings.ToLower(table)]
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func columnPrivacy(table, column string) (ColumnPrivacy, bool) {
	fields, ok := dbSchema[strings.ToLower(table)]
	if !ok {
		return "", false
	}
	p, ok := fields[strings.ToLower(column)]
	return p, ok
}

func isTableAllowed(table string) bool {
	_, ok := dbSchema[strings.ToLower(table)]
	return ok
}

// SchemaJoin documents a relationship the AI client can use
type SchemaJoin struct {
	Description   string   `json:"description"`
	Tables        []string `json:"tables"`
	JoinCondition string   `json:"joinCondition"`
	Note          string   `json:"note,omitempty"`
	Example       string   `json:"example"`
}

// SchemaExample pairs a natural-language question with a valid query
type SchemaExample struct {
	Question string `json:"question"`
	Query    string `json:"query"`
}

// SchemaDescription is the discovery payload for the schema endpoint
type SchemaDescription struct {
	Tables   map[string]map[string]string `json:"tables"`
	Joins    []SchemaJoin                 `json:"joins"`
	Examples []SchemaExample              `json:"examples"`
}

// DescribeSchema renders the whitelist with per-column privacy notes plus
// join hints and worked examples, so an LLM can write valid queries
// without ever seeing the real database.
func DescribeSchema() SchemaDescription {
	desc := SchemaDescription{Tables: make(map[string]map[string]string)}

	for table, fields := range dbSchema {
		cols := make(map[string]string, len(fields))
		for col, privacy := range fields {
			if privacy == PrivacySensitive {
				cols[col] = "sensitive (will be pseudonymized)"
			} else {
				cols[col] = "public"
			}
		}
		desc.Tables[table] = cols
	}

	desc.Joins = []SchemaJoin{
		{
			Description:   "Look up user by email address",
			Tables:        []string{"users", "users_emails"},
			JoinCondition: "users.id = users_emails.userid",
			Note:          "Email addresses are stored in users_emails, not the users table",
			Example:       `SELECT u.id, u.fullname, u.lastaccess FROM users u INNER JOIN users_emails ue ON u.id = ue.userid WHERE ue.email = "user@example.com"`,
		},
		{
			Description:   "Get user messages/posts",
			Tables:        []string{"users", "messages"},
			JoinCondition: "users.id = messages.fromuser",
			Example:       "SELECT m.id, m.subject, m.type, m.arrival FROM messages m WHERE m.fromuser = 12345",
		},
		{
			Description:   "Get user group memberships",
			Tables:        []string{"users", "memberships", "groups"},
			JoinCondition: "users.id = memberships.userid, memberships.groupid = groups.id",
			Example:       "SELECT g.nameshort, m.role, m.added FROM memberships m INNER JOIN groups g ON m.groupid = g.id WHERE m.userid = 12345",
		},
		{
			Description:   "Get chat room participants",
			Tables:        []string{"chat_rooms", "users"},
			JoinCondition: "chat_rooms.user1 = users.id OR chat_rooms.user2 = users.id",
			Example:       "SELECT cr.id, cr.chattype, cr.created FROM chat_rooms cr WHERE cr.user1 = 12345 OR cr.user2 = 12345",
		},
	}

	desc.Examples = []SchemaExample{
		{
			Question: "When did user with email X last log in?",
			Query:    `SELECT u.lastaccess FROM users u INNER JOIN users_emails ue ON u.id = ue.userid WHERE ue.email = "X"`,
		},
		{
			Question: "What posts has user ID 12345 made?",
			Query:    "SELECT id, subject, type, arrival FROM messages WHERE fromuser = 12345 ORDER BY arrival DESC LIMIT 20",
		},
		{
			Question: "What groups is user ID 12345 a member of?",
			Query:    "SELECT g.nameshort, m.role FROM memberships m INNER JOIN groups g ON m.groupid = g.id WHERE m.userid = 12345",
		},
		{
			Question: "Is the user active or bouncing?",
			Query:    "SELECT engagement, bouncing, lastaccess FROM users WHERE id = 12345",
		},
	}

	return desc
}
