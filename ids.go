package dobby

import (
	"regexp"
)

// idPattern matches a filesystem-safe container identifier: it is used
// directly as the OCI container name and as the bundle subdirectory
// prefix, so it must never contain path separators or traversal tokens.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

// ValidContainerID reports whether id is a valid container identifier.
func ValidContainerID(id string) bool {
	return idPattern.MatchString(id)
}

func validateContainerID(id string) error {
	if !ValidContainerID(id) {
		return configInvalid("id", "invalid container id %q", id)
	}
	return nil
}
