package config

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists settings that are missing, inconsistent or could not be parsed.
type ValidationError struct {
	fields  []string
	invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.invalid) > 0 {
		parts = append(parts, "unparseable values ["+strings.Join(e.invalid, "; ")+"]")
	}
	if len(e.fields) > 0 {
		parts = append(parts, "missing or invalid fields ["+strings.Join(e.fields, ", ")+"]")
	}
	return "config: " + strings.Join(parts, ", ")
}

// Fields returns the failing Config fields, e.g. "Payments.StripeAPIKey".
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Invalid returns "ENV_KEY: reason" entries for values that could not be parsed.
func (e *ValidationError) Invalid() []string {
	return append([]string(nil), e.invalid...)
}

func validate(cfg Config) error {
	failed := make(map[string]struct{})

	var verrs validator.ValidationErrors
	if err := structValidator.Struct(cfg); err != nil {
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			failed[strings.TrimPrefix(fe.Namespace(), "Config.")] = struct{}{}
		}
	}

	// Rules spanning sections are not expressible as tags.
	usesFirestore := cfg.Store.Backend == "firestore" || cfg.Idempotency.Backend == "firestore"
	if usesFirestore && cfg.Firestore.ProjectID == "" {
		failed["Firestore.ProjectID"] = struct{}{}
	}
	if cfg.Idempotency.Backend == "redis" && cfg.Redis.Addr == "" {
		failed["Redis.Addr"] = struct{}{}
	}

	if len(failed) == 0 {
		return nil
	}
	fields := make([]string, 0, len(failed))
	for field := range failed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return &ValidationError{fields: fields}
}
