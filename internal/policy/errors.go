package policy

import (
	"fmt"
	"strings"
)

// ConfigError reports every problem found in a policy configuration. A
// model is never built from a configuration that produced one.
type ConfigError struct {
	Source   string
	Problems []string
}

func (e *ConfigError) Error() string {
	prefix := "policy validation failed"
	if e.Source != "" {
		prefix = fmt.Sprintf("policy validation failed (%s)", e.Source)
	}
	return prefix + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
