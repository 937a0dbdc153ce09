package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	secretScheme      = "secret://"
	secretShortScheme = "sm://"
)

var errNoSecretResolver = errors.New("no secret resolver configured")

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference that could not be resolved. Ref is always in secret:// form.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that ended up empty.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "config: required secrets are empty: " + strings.Join(e.RedactedNames(), ", ")
}

// Names returns the field names, sorted. They may reveal deployment layout; log RedactedNames instead.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

// RedactedNames returns a short sha256 fingerprint per name, in the order of Names.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out[i] = hex.EncodeToString(sum[:8])
	}
	return out
}

// secretTable tracks which secret-bearing fields resolved to which value.
type secretTable struct {
	ctx      context.Context
	resolver SecretResolver
	values   map[string]string
}

func newSecretTable(ctx context.Context, resolver SecretResolver) *secretTable {
	return &secretTable{ctx: ctx, resolver: resolver, values: make(map[string]string)}
}

// fill replaces *field with the resolved secret when it holds a reference and records the result
// under name.
func (t *secretTable) fill(name string, field *string) error {
	value := strings.TrimSpace(*field)
	if ref, ok := secretRef(value); ok {
		if t.resolver == nil {
			return &SecretError{Ref: ref, Err: errNoSecretResolver}
		}
		resolved, err := t.resolver.ResolveSecret(t.ctx, ref)
		if err != nil {
			return &SecretError{Ref: ref, Err: err}
		}
		value = strings.TrimSpace(resolved)
	}
	*field = value
	t.values[name] = value
	return nil
}

// missing returns the required names with no value, or nil.
func (t *secretTable) missing(required []string) error {
	seen := make(map[string]bool, len(required))
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if t.values[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &MissingSecretsError{names: names}
}

// secretRef reports whether value is a secret reference and returns it with the secret:// scheme.
func secretRef(value string) (string, bool) {
	switch {
	case strings.HasPrefix(value, secretScheme):
		return value, true
	case strings.HasPrefix(value, secretShortScheme):
		return secretScheme + strings.TrimPrefix(value, secretShortScheme), true
	}
	return "", false
}
