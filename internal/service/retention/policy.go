package retention

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const PolicySchemaV1 = "procdash.retention.v1"

// Policy controls neutralization: which metadata keys survive untouched and
// how many runs one sweep processes.
type Policy struct {
	Schema       string   `json:"schema" yaml:"schema"`
	SafeMetaKeys []string `json:"safe_meta_keys" yaml:"safe_meta_keys"`
	BatchSize    int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// DefaultPolicy matches the built-in safe-key set used when no policy file is
// configured.
func DefaultPolicy() Policy {
	return Policy{
		Schema:       PolicySchemaV1,
		SafeMetaKeys: []string{"category", "type", "department", "status_code"},
		BatchSize:    100,
	}
}

func ParsePolicy(input []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(input, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if policy.BatchSize == 0 {
		policy.BatchSize = DefaultPolicy().BatchSize
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Schema) != PolicySchemaV1 {
		return fmt.Errorf("policy.schema must be %q", PolicySchemaV1)
	}
	if len(p.SafeMetaKeys) == 0 {
		return errors.New("policy.safe_meta_keys must be non-empty")
	}
	seen := make(map[string]struct{}, len(p.SafeMetaKeys))
	for _, key := range p.SafeMetaKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("policy.safe_meta_keys entries must be non-empty")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("policy.safe_meta_keys duplicate: %q", key)
		}
		seen[key] = struct{}{}
	}
	if p.BatchSize < 1 {
		return errors.New("policy.batch_size must be >= 1")
	}
	return nil
}

func (p Policy) safeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.SafeMetaKeys))
	for _, key := range p.SafeMetaKeys {
		set[strings.TrimSpace(key)] = struct{}{}
	}
	return set
}
