// Package config models the hierarchical installation configuration
// document: a tree of nodes whose scalar and list-of-string fields are
// inherited downward, optionally gated by feature flags, with leaf target
// specs at any level. See expand.go for how the tree is flattened into
// install targets.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is one level of the configuration tree.
//
// At each level a document key is one of:
//   - "if": the name of a feature flag gating this whole subtree
//   - "targets": a list of leaf target specs
//   - a mapping value: a named child node
//   - anything else: a configuration field inherited by children and leaves
type Node struct {
	// Fields holds this node's own configuration values: string, bool,
	// int64, float64 or []string.
	Fields map[string]any

	// Children maps child name to node; ChildOrder preserves declaration
	// order, which fixes target emission order.
	Children   map[string]*Node
	ChildOrder []string

	// Targets are this node's own leaf target specs, emitted after all
	// children's targets.
	Targets []TargetSpec

	// If names the feature flag gating this subtree; empty means ungated.
	If string
}

// TargetSpec is one leaf entry of a node's "targets" list: either a bare
// name or a mapping of override fields.
type TargetSpec struct {
	Name   string
	Fields map[string]any // nil for a bare-name spec
}

// LoadFile reads and parses a configuration document from path.
func LoadFile(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	node, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return node, nil
}

// Load parses a configuration document from r.
func Load(r io.Reader) (*Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a configuration document.
func Parse(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return &Node{}, nil
	}
	return decodeNode(doc.Content[0], nil)
}

func decodeNode(n *yaml.Node, path []string) (*Node, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a mapping, got %s", joinPath(path), kindName(n))
	}

	node := &Node{
		Fields:   make(map[string]any),
		Children: make(map[string]*Node),
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val := deref(n.Content[i+1])
		keyPath := append(path, key)

		switch {
		case key == "if":
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%s: \"if\" must name a feature flag", joinPath(path))
			}
			node.If = val.Value
		case key == "targets":
			specs, err := decodeTargets(val, path)
			if err != nil {
				return nil, err
			}
			node.Targets = specs
		case val.Kind == yaml.MappingNode:
			child, err := decodeNode(val, keyPath)
			if err != nil {
				return nil, err
			}
			node.Children[key] = child
			node.ChildOrder = append(node.ChildOrder, key)
		default:
			v, err := decodeValue(val, keyPath)
			if err != nil {
				return nil, err
			}
			node.Fields[key] = v
		}
	}
	return node, nil
}

func decodeTargets(n *yaml.Node, path []string) ([]TargetSpec, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%s: \"targets\" must be a list", joinPath(path))
	}
	specs := make([]TargetSpec, 0, len(n.Content))
	for _, item := range n.Content {
		item = deref(item)
		switch item.Kind {
		case yaml.ScalarNode:
			// Version-looking names ("5.4") silently decode as numbers in
			// YAML; insist they are quoted rather than guessing.
			if item.Tag == "!!float" {
				return nil, fmt.Errorf("%s: target %s was parsed as a number; enclose it in quotes",
					joinPath(path), item.Value)
			}
			specs = append(specs, TargetSpec{Name: item.Value})
		case yaml.MappingNode:
			fields := make(map[string]any, len(item.Content)/2)
			var name string
			for i := 0; i+1 < len(item.Content); i += 2 {
				key := item.Content[i].Value
				v, err := decodeValue(deref(item.Content[i+1]), append(path, "targets", key))
				if err != nil {
					return nil, err
				}
				if key == "name" {
					if s, ok := v.(string); ok {
						name = s
					}
				}
				fields[key] = v
			}
			specs = append(specs, TargetSpec{Name: name, Fields: fields})
		default:
			return nil, fmt.Errorf("%s: target spec must be a name or a mapping", joinPath(path))
		}
	}
	return specs, nil
}

// decodeValue decodes a scalar or list-of-string field value.
func decodeValue(n *yaml.Node, path []string) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, fmt.Errorf("%s: %w", joinPath(path), err)
			}
			return b, nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, fmt.Errorf("%s: %w", joinPath(path), err)
			}
			return i, nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, fmt.Errorf("%s: %w", joinPath(path), err)
			}
			return f, nil
		case "!!null":
			return nil, fmt.Errorf("%s: null is not a valid field value", joinPath(path))
		default:
			return n.Value, nil
		}
	case yaml.SequenceNode:
		list := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			item = deref(item)
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%s: list values must be strings", joinPath(path))
			}
			list = append(list, item.Value)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%s: unsupported value (%s)", joinPath(path), kindName(n))
	}
}

// deref follows alias nodes so anchors behave like inline values.
func deref(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "(root)"
	}
	return strings.Join(path, "/")
}
