package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	secretTag   = "!secret"
	secretsFile = "secrets.yaml"
)

// ErrSecretNotFound is returned when a !secret key has no value in any
// secrets.yaml on the lookup path.
var ErrSecretNotFound = errors.New("config: secret not found")

// secretResolver replaces `!secret key` scalars with values from secrets.yaml.
// The file next to the config is consulted first, then each parent directory
// up to the user's home directory when the config lives below it.
type secretResolver struct {
	dirs   []string
	loaded map[string]map[string]string
}

func newSecretResolver(configPath string) (*secretResolver, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	home, _ := os.UserHomeDir()
	return &secretResolver{
		dirs:   lookupDirs(filepath.Dir(abs), home),
		loaded: make(map[string]map[string]string),
	}, nil
}

func lookupDirs(dir, home string) []string {
	dirs := []string{dir}
	if home == "" || !within(dir, home) {
		return dirs
	}
	for dir != home {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		dirs = append(dirs, dir)
	}
	return dirs
}

func within(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func (r *secretResolver) resolve(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == secretTag {
		value, err := r.lookup(node.Value)
		if err != nil {
			return fmt.Errorf("%w (line %d)", err, node.Line)
		}
		node.Tag = ""
		node.Value = value
		node.Style = 0
		return nil
	}
	for _, child := range node.Content {
		if err := r.resolve(child); err != nil {
			return err
		}
	}
	return nil
}

func (r *secretResolver) lookup(key string) (string, error) {
	for _, dir := range r.dirs {
		secrets, err := r.load(dir)
		if err != nil {
			return "", err
		}
		if value, ok := secrets[key]; ok {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

func (r *secretResolver) load(dir string) (map[string]string, error) {
	if secrets, ok := r.loaded[dir]; ok {
		return secrets, nil
	}
	secrets, err := readSecrets(filepath.Join(dir, secretsFile))
	if err != nil {
		return nil, err
	}
	r.loaded[dir] = secrets
	return secrets, nil
}

func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	secrets := map[string]string{}
	if len(root.Content) == 0 {
		return secrets, nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: %s: expected a mapping", path)
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if value.Tag == secretTag {
			return nil, fmt.Errorf("config: %s: secrets cannot reference secrets (line %d)", path, value.Line)
		}
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("config: %s: secret %q must be a scalar", path, key.Value)
		}
		secrets[key.Value] = value.Value
	}
	return secrets, nil
}
