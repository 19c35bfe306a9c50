package artifact

import "errors"

var (
	// ErrNotFound is returned when no artifact (or version) matches the
	// session and name.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for empty names or names containing a path
	// separator.
	ErrInvalidName = errors.New("invalid artifact name")
)

// ValidateName checks that name can be used as an artifact name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return ErrInvalidName
		}
	}
	return nil
}
