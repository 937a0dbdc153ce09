package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const defaultVersion = "latest"

// reference is a parsed secret://name?version=N&project=P. sm:// is accepted as an alias.
type reference struct {
	name    string
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	switch u.Scheme {
	case "secret", "sm":
	default:
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	ref := reference{
		name:    name,
		version: strings.TrimSpace(query.Get("version")),
		project: strings.TrimSpace(query.Get("project")),
	}
	if ref.version == "" {
		ref.version = defaultVersion
	}
	return ref, nil
}

// key identifies one version of one secret in the cache and the fallback file.
func (r reference) key() string {
	key := "secret://" + r.name + "#" + r.version
	if r.project != "" {
		key = r.project + "/" + key
	}
	return key
}

// unversioned matches fallback entries written without ?version.
func (r reference) unversioned() string {
	return reference{name: r.name, version: defaultVersion, project: r.project}.key()
}

func (r reference) resourceName(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, r.version)
}

// parseFallback reads REF=VALUE lines. Blank lines and lines starting with # are skipped. Keys
// contain ':' which dotenv parsers treat as a separator, so lines are split by hand.
func parseFallback(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, ok := splitEntry(line)
		if !ok {
			return nil, fmt.Errorf("secrets: line %d: expected KEY=VALUE", lineNo)
		}
		ref, err := parseReference(rawKey)
		if err != nil {
			return nil, fmt.Errorf("secrets: line %d: %w", lineNo, err)
		}
		values[ref.key()] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// splitEntry finds the '=' ending the reference. Query parameters in the reference carry their own
// '=', so "sm://key?version=2=v" splits after "version=2".
func splitEntry(line string) (string, string, bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", false
	}
	q := strings.IndexByte(line, '?')
	if q < 0 || q > eq {
		return line[:eq], line[eq+1:], true
	}
	i := q + 1
	for {
		name := strings.IndexByte(line[i:], '=')
		if name < 0 {
			return "", "", false
		}
		start := i + name + 1
		end := strings.IndexAny(line[start:], "&=")
		if end < 0 {
			return "", "", false
		}
		if line[start+end] == '=' {
			return line[:start+end], line[start+end+1:], true
		}
		i = start + end + 1
	}
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}
