package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// SetYamlConfig sets key in the project's config.yaml, keeping the other
// keys and the comments of the file.
func SetYamlConfig(key, value string) error {
	configPath, err := findProjectConfigYaml()
	if err != nil {
		return err
	}
	return SetYamlConfigAt(configPath, key, value)
}

// SetYamlConfigAt is SetYamlConfig on an explicit file. Only keys iflow
// knows are accepted; dotted keys are written as nested mappings.
func SetYamlConfigAt(configPath, key, value string) error {
	key = strings.ToLower(key)
	if !Settable(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	content, err := os.ReadFile(configPath) //nolint:gosec // path comes from the project directory
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config.yaml: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("parse config.yaml: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config.yaml: top level is not a mapping")
	}
	setKey(root, strings.Split(key, "."), scalar(value))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

// Settable reports whether key is a scalar setting iflow reads.
func Settable(key string) bool {
	nv := viper.New()
	setDefaults(nv)
	return slices.Contains(nv.AllKeys(), strings.ToLower(key))
}

// GetYamlConfig returns the effective value of key, or "" before Initialize.
func GetYamlConfig(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// findProjectConfigYaml walks up from the working directory to the nearest
// .iflow/config.yaml.
func findProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, Dir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}
	return "", fmt.Errorf("no %s/config.yaml found (run 'iflow init' first)", Dir)
}

func setKey(m *yaml.Node, path []string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return
		}
		child := m.Content[i+1]
		if child.Kind != yaml.MappingNode {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			m.Content[i+1] = child
		}
		setKey(child, path[1:], value)
		return
	}

	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path[0]}
	if len(path) == 1 {
		m.Content = append(m.Content, k, value)
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, k, child)
	setKey(child, path[1:], value)
}

// scalar types value so viper reads it back as written: booleans and
// numbers stay plain, anything else is a string.
func scalar(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	switch {
	case strings.EqualFold(value, "true"), strings.EqualFold(value, "false"):
		n.Tag, n.Value = "!!bool", strings.ToLower(value)
	case isInt(value):
		n.Tag = "!!int"
	}
	return n
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
