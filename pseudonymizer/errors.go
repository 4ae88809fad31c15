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
	"errors"
	"fmt"
)

// Error codes returned in JSON error bodies. The AI client only ever
// sees the code and message; causes stay in the server logs.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeSessionRequired    = "SESSION_REQUIRED"
	CodeQueryRequired      = "QUERY_REQUIRED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeBackendQueryError  = "BACKEND_QUERY_ERROR"
	CodeSQLValidationError = "SQL_VALIDATION_ERROR"
)

// ServiceError carries an error code, the HTTP status it maps to, and an
// operator-facing message. The wrapped cause is for logs only.
type ServiceError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a ServiceError
func NewServiceError(code string, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Status: status, Message: message, Err: err}
}

// AsServiceError extracts a ServiceError from an error chain
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
