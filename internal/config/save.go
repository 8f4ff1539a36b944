package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveDirectory replaces the directory section of the config file.
// Comments and formatting in other sections are preserved by editing the yaml.Node tree.
func SaveDirectory(configPath string, dir DirectoryConfig) error {
	return saveSection(configPath, "directory", buildDirectoryNode(dir))
}

// SaveStore replaces the store section of the config file.
func SaveStore(configPath string, store StoreConfig) error {
	return saveSection(configPath, "store", buildStoreNode(store))
}

// SaveLogLevel sets log.level in the config file, keeping any other log keys.
// A running process watching the file picks the new level up.
func SaveLogLevel(configPath, level string) error {
	if err := ValidateLog(LogConfig{Level: level}); err != nil {
		return err
	}
	return editDocument(configPath, func(root *yaml.Node) {
		logNode := lookup(root, "log")
		if logNode == nil || logNode.Kind != yaml.MappingNode {
			setKey(root, "log", mapping("level", level))
			return
		}
		setKey(logNode, "level", scalar(level))
	})
}

func saveSection(configPath, key string, value *yaml.Node) error {
	return editDocument(configPath, func(root *yaml.Node) {
		setKey(root, key, value)
	})
}

// editDocument parses configPath (an absent or empty file is an empty mapping),
// lets edit mutate the root mapping and writes the result atomically.
func editDocument(configPath string, edit func(root *yaml.Node)) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level is not a mapping")
	}
	edit(root)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(configPath string, data []byte) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".ticketbay.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func buildDirectoryNode(dir DirectoryConfig) *yaml.Node {
	node := mapping("owner", dir.Owner, "marketplace", dir.Marketplace)
	if len(dir.Admins) > 0 {
		admins := &yaml.Node{Kind: yaml.SequenceNode}
		for _, a := range dir.Admins {
			admins.Content = append(admins.Content, scalar(a))
		}
		node.Content = append(node.Content, scalar("admins"), admins)
	}
	return node
}

func buildStoreNode(store StoreConfig) *yaml.Node {
	node := mapping("driver", store.Driver)
	if store.Path != "" {
		node.Content = append(node.Content, scalar("path"), scalar(store.Path))
	}
	if store.LedgerPath != "" {
		node.Content = append(node.Content, scalar("ledger_path"), scalar(store.LedgerPath))
	}
	return node
}

// lookup returns the value node for key in a mapping, or nil.
func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// setKey replaces the value for key in a mapping, or appends it.
func setKey(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, scalar(key), value)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

// mapping builds a mapping node from alternating key, value strings.
func mapping(kv ...string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i+1 < len(kv); i += 2 {
		node.Content = append(node.Content, scalar(kv[i]), scalar(kv[i+1]))
	}
	return node
}
