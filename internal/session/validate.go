package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

// MaxNameLen keeps the daemon socket path under the sockaddr_un limit for
// ordinary home directories.
const MaxNameLen = 40

var (
	labelName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	phoneName = regexp.MustCompile(`^\+[0-9]{6,15}$`)
)

// ValidateName accepts either a lowercase label such as "work" or
// "personal.2", or the E.164 number of the account, such as "+15551234567".
// Names become directory names under sessions/.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, MaxNameLen)
	case phoneName.MatchString(name):
		return nil
	case !labelName.MatchString(name):
		return fmt.Errorf("%w %q: use lowercase letters, digits, '.', '_' or '-', starting with a letter or digit, or a +E.164 number", ErrInvalidName, name)
	case strings.Contains(name, ".."), strings.HasSuffix(name, "."):
		return fmt.Errorf("%w %q: dots must separate words", ErrInvalidName, name)
	}
	return nil
}
