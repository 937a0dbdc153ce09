package storage

import (
	"fmt"
	"path"
	"strings"
)

// ObjectName joins prefix and name into an object key, rejecting empty segments, backslashes and
// traversal.
func ObjectName(prefix, name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("storage: object name is required")
	}
	for _, segment := range strings.Split(name, "/") {
		if err := validateSegment(segment); err != nil {
			return "", err
		}
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name, nil
	}
	return path.Join(prefix, name), nil
}

func validateSegment(segment string) error {
	switch {
	case segment == "":
		return fmt.Errorf("storage: object name contains an empty segment")
	case segment == "." || segment == "..":
		return fmt.Errorf("storage: object name contains a traversal segment")
	case strings.ContainsAny(segment, "\\\r\n"):
		return fmt.Errorf("storage: object name contains invalid characters")
	}
	return nil
}
