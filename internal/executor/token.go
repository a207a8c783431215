package executor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoToken indicates the login response carried neither an access_token
// nor a token field.
var ErrNoToken = errors.New("login response contains no access_token or token field")

// ExtractToken pulls the bearer token out of a login response body.
// The "access_token" field wins over "token". Callers decide how strict to
// be: the single-endpoint path logs and carries on without a token, the
// tenant run treats any error here as terminal.
func ExtractToken(body string) (string, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return "", fmt.Errorf("login response is not valid JSON: %w", err)
	}

	if tok, ok := data["access_token"].(string); ok && tok != "" {
		return tok, nil
	}
	if tok, ok := data["token"].(string); ok && tok != "" {
		return tok, nil
	}

	return "", ErrNoToken
}
