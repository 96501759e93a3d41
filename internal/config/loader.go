package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
)

// raw mirrors the six recognized configuration keys. All are plain YAML
// integers; the three *timeout keys are milliseconds. Unrecognized keys are
// ignored by construction — goccy/go-yaml simply drops fields with no
// matching tag when decoding into a typed struct rather than a map.
type raw struct {
	MinPriority     *int64 `yaml:"minpriority"`
	MaxConcurrent   *int64 `yaml:"maxreq"`
	MaxQueueDepth   *int64 `yaml:"maxqueue"`
	LockTimeout     *int64 `yaml:"locktimeout"`
	RequestTimeout  *int64 `yaml:"requesttimeout"`
	PriorityTimeout *int64 `yaml:"prioritytimeout"`
}

// Loader reads and parses admission-scheduler configuration.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads a YAML config file from path and parses it.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return l.Parse(data)
}

// Parse parses YAML bytes into a Config, starting from Default() and
// overlaying any of the six recognized keys that are present. A malformed
// (non-integer) value for a recognized key fails with an *InvalidError;
// unrecognized keys are silently ignored.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	var r raw
	if err := yaml.Unmarshal([]byte(expanded), &r); err != nil {
		return nil, &InvalidError{Field: "yaml", Reason: err.Error()}
	}

	cfg := Default()

	if r.MinPriority != nil {
		cfg.MinPriority = int(*r.MinPriority)
	}
	if r.MaxConcurrent != nil {
		cfg.MaxConcurrent = int(*r.MaxConcurrent)
	}
	if r.MaxQueueDepth != nil {
		cfg.MaxQueueDepth = int(*r.MaxQueueDepth)
	}
	if r.LockTimeout != nil {
		cfg.SlotAcquireTimeout = time.Duration(*r.LockTimeout) * time.Millisecond
	}
	if r.RequestTimeout != nil {
		cfg.RequestDeadline = time.Duration(*r.RequestTimeout) * time.Millisecond
	}
	if r.PriorityTimeout != nil {
		cfg.PromotionInterval = time.Duration(*r.PriorityTimeout) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${NAME} references with the named environment
// variable's value, leaving the reference untouched if unset.
func (l *Loader) expandEnvVars(s string) string {
	return l.envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := l.envPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}
