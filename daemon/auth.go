// auth.go - secrets file authentication
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package daemon

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
)

// AccessError is an authentication or authorization failure; the
// reason is what the client sees after "@ERROR: ".
type AccessError struct {
	Reason string
}

func (e *AccessError) Error() string {
	return "daemon: access denied: " + e.Reason
}

var _ error = &AccessError{}

// secretsEntry is one line of a secrets file: "user password
// [module,module...]" - the optional module list is the user's
// global allow list.
type secretsEntry struct {
	user     string
	password string
	modules  []string
}

// loadSecrets parses a secrets file, refusing one that other users
// could read.
func loadSecrets(path string) ([]secretsEntry, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, &AccessError{Reason: fmt.Sprintf("secrets file: %s", err)}
	}
	if st.Mode().Perm()&0o077 != 0 {
		return nil, &AccessError{Reason: fmt.Sprintf("secrets file %s must not be accessible to others", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &AccessError{Reason: fmt.Sprintf("secrets file: %s", err)}
	}

	var entries []secretsEntry
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		e := secretsEntry{user: fields[0], password: fields[1]}
		if len(fields) > 2 {
			e.modules = parseList(strings.Join(fields[2:], " "))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// authenticateToken validates a client token ("user" or
// "user password") against a secrets file and returns the user's
// allowed-module list (empty means all).
func authenticateToken(token, path string) ([]string, error) {
	entries, err := loadSecrets(path)
	if err != nil {
		return nil, err
	}

	userName, password, _ := strings.Cut(strings.TrimSpace(token), " ")
	for _, e := range entries {
		if e.user != userName {
			continue
		}
		if password != "" &&
			subtle.ConstantTimeCompare([]byte(e.password), []byte(password)) != 1 {
			break
		}
		return e.modules, nil
	}
	return nil, &AccessError{Reason: "access denied"}
}
