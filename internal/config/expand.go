package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxTemplateIterations bounds mutual-reference template expansion. A target
// whose fields still contain placeholders after this many full passes is a
// configuration error.
const maxTemplateIterations = 5

// Target is one fully resolved, flat install target: the accumulated
// configuration of its branch, overlaid with its leaf spec, with all
// templates expanded. The synthesized "context" field carries the ancestor
// names from the root down to the leaf's parent.
type Target map[string]any

// Context returns the synthesized namespace path of the target.
func (t Target) Context() []string {
	ctx, _ := t["context"].([]string)
	return ctx
}

// Has reports whether the target carries the field.
func (t Target) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Str returns a required string-valued field. Non-string scalars are
// rendered to their string form; a missing field is an error.
func (t Target) Str(key string) (string, error) {
	v, ok := t[key]
	if !ok {
		return "", fmt.Errorf("missing required key %q", key)
	}
	s, ok := scalarString(v)
	if !ok {
		return "", fmt.Errorf("key %q is not a scalar", key)
	}
	return s, nil
}

// StrOr returns a string-valued field, or def when absent.
func (t Target) StrOr(key, def string) string {
	if !t.Has(key) {
		return def
	}
	s, err := t.Str(key)
	if err != nil {
		return def
	}
	return s
}

// BoolOr returns a bool-valued field, or def when absent or not a bool.
func (t Target) BoolOr(key string, def bool) bool {
	if b, ok := t[key].(bool); ok {
		return b
	}
	return def
}

// IntOr returns an integer field, or def when absent.
func (t Target) IntOr(key string, def int) int {
	switch v := t[key].(type) {
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Strings returns a list-of-string field. A bare string is returned as a
// single-element list; absent yields nil.
func (t Target) Strings(key string) []string {
	switch v := t[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Expand flattens the configuration tree into fully resolved targets.
//
// Emission order is pre-order, depth-first, with a node's children emitted
// before the node's own targets list. Subtrees gated by a flag absent from
// enabled contribute nothing. base seeds every branch's accumulated
// configuration (e.g. the staging path and a run timestamp).
func Expand(root *Node, enabled map[string]bool, base map[string]any) ([]Target, error) {
	var out []Target
	if err := expand(root, enabled, nil, base, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func expand(node *Node, enabled map[string]bool, context []string, acc map[string]any, out *[]Target) error {
	if node == nil {
		return nil
	}
	if node.If != "" && !enabled[node.If] {
		return nil
	}

	// Layer this node's own fields over the inherited configuration.
	// The copy keeps sibling branches isolated: list values replace
	// wholesale, they never concatenate.
	merged := make(map[string]any, len(acc)+len(node.Fields))
	for k, v := range acc {
		merged[k] = v
	}
	for k, v := range node.Fields {
		merged[k] = v
	}

	for _, name := range node.ChildOrder {
		childContext := append(append([]string(nil), context...), name)
		if err := expand(node.Children[name], enabled, childContext, merged, out); err != nil {
			return err
		}
	}

	for _, spec := range node.Targets {
		target := make(Target, len(merged)+len(spec.Fields)+2)
		for k, v := range merged {
			target[k] = v
		}
		if spec.Fields == nil {
			target["name"] = spec.Name
		} else {
			for k, v := range spec.Fields {
				target[k] = v
			}
		}
		target["context"] = append([]string(nil), context...)

		if err := expandTemplates(target, context); err != nil {
			return err
		}
		*out = append(*out, target)
	}
	return nil
}

// expandTemplates resolves {placeholder} references between fields of the
// same target, re-scanning every field each pass until stable.
func expandTemplates(target Target, context []string) error {
	for iterations := 0; needsExpansion(target); {
		iterations++
		if iterations > maxTemplateIterations {
			return fmt.Errorf("too many mutual references (in %s)", strings.Join(context, "/"))
		}
		// Deterministic pass order; convergence does not depend on it.
		keys := make([]string, 0, len(target))
		for k := range target {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			switch v := target[key].(type) {
			case string:
				formatted, err := formatString(v, target, context)
				if err != nil {
					return err
				}
				target[key] = formatted
			case []string:
				formatted := make([]string, len(v))
				for i, s := range v {
					fs, err := formatString(s, target, context)
					if err != nil {
						return err
					}
					formatted[i] = fs
				}
				target[key] = formatted
			case float64:
				target[key] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
	}
	return nil
}

func needsExpansion(target Target) bool {
	for _, v := range target {
		switch v := v.(type) {
		case string:
			if strings.Contains(v, "{") {
				return true
			}
		case []string:
			for _, s := range v {
				if strings.Contains(s, "{") {
					return true
				}
			}
		}
	}
	return false
}

// formatString substitutes {name} tokens with the named field of the same
// target. Referencing an absent field is fatal.
func formatString(s string, target Target, context []string) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(s[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q (in %s)", s, strings.Join(context, "/"))
		}
		key := s[i+1 : i+end]
		v, ok := target[key]
		if !ok {
			return "", fmt.Errorf("unable to find key %q in %q (in %s)", key, s, strings.Join(context, "/"))
		}
		sv, ok := scalarString(v)
		if !ok {
			return "", fmt.Errorf("key %q in %q is not a scalar (in %s)", key, s, strings.Join(context, "/"))
		}
		b.WriteString(sv)
		i += end + 1
	}
	return b.String(), nil
}

func scalarString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return "", false
	}
}
