package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source loads a policy from backing storage.
type Source interface {
	Name() string
	Load(ctx context.Context) (Policy, error)
}

// StaticSource serves a fixed policy.
type StaticSource struct {
	Policy Policy
}

// Name implements Source.
func (StaticSource) Name() string { return "builtin" }

// Load implements Source.
func (s StaticSource) Load(context.Context) (Policy, error) {
	return s.Policy.Clone(), nil
}

// FileSource reads a YAML policy document from disk.
type FileSource struct {
	Path string
}

// Name implements Source.
func (s FileSource) Name() string { return "file:" + s.Path }

// Load implements Source.
func (s FileSource) Load(ctx context.Context) (Policy, error) {
	if err := ctx.Err(); err != nil {
		return Policy{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Policy{}, fmt.Errorf("rbac: read policy %s: %w", s.Path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML policy document.
func ParseYAML(data []byte) (Policy, error) {
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Policy{}, fmt.Errorf("rbac: decode policy: %w", err)
	}
	return doc.Policy()
}

// MarshalYAML encodes the policy as a YAML document.
func MarshalYAML(p Policy) ([]byte, error) {
	return yaml.Marshal(p.Document())
}
