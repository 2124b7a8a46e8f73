// Package expand materializes cartesian-product sweeps from an
// experiment-config document.
package expand

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"caliban/internal/calerr"
)

// Entry is one key (or compound key) of a mapping, normalized to a list of
// choices. A scalar entry has exactly one choice; a list entry has one choice
// per element; a compound entry has one choice per inner tuple, each choice
// binding all of its keys atomically.
type Entry struct {
	Keys    []string
	Choices [][]Binding
}

// Mapping is one top-level mapping of the document, entries in source order.
type Mapping []Entry

// Document is the parsed experiment-config: an ordered list of mappings.
type Document []Mapping

// Tuple is one expanded argument tuple.
type Tuple struct {
	Bindings []Binding
}

// Argv renders the tuple as argv tokens with prefix prepended. A boolean true
// becomes a bare flag; false suppresses the flag entirely.
func (t Tuple) Argv(prefix []string) []string {
	argv := append([]string{}, prefix...)
	for _, b := range t.Bindings {
		if b.Value.Kind == KindBool {
			if b.Value.Bool {
				argv = append(argv, "--"+b.Key)
			}
			continue
		}
		argv = append(argv, "--"+b.Key, b.Value.Raw)
	}
	return argv
}

// FromFile parses the document at path.
func FromFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &calerr.ConfigInvalidError{Path: path, Index: -1, Msg: err.Error()}
	}
	return Parse(data, path)
}

// FromReader parses a streamed document in one shot.
func FromReader(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &calerr.ConfigInvalidError{Index: -1, Msg: err.Error()}
	}
	return Parse(data, "")
}

// Parse decodes an experiment-config document: a mapping, or an ordered list
// of mappings. An empty document parses to an empty Document, which expands
// to exactly one empty tuple.
func Parse(data []byte, path string) (Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &calerr.ConfigInvalidError{Path: path, Index: -1, Msg: err.Error()}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return Document{}, nil
	}

	top := root.Content[0]
	switch top.Kind {
	case yaml.MappingNode:
		m, err := parseMapping(top, path, 0)
		if err != nil {
			return nil, err
		}
		return Document{m}, nil
	case yaml.SequenceNode:
		var doc Document
		for i, item := range top.Content {
			if item.Kind != yaml.MappingNode {
				return nil, &calerr.ConfigInvalidError{
					Path:  path,
					Index: i,
					Msg:   fmt.Sprintf("line %d: list items must be mappings", item.Line),
				}
			}
			m, err := parseMapping(item, path, i)
			if err != nil {
				return nil, err
			}
			doc = append(doc, m)
		}
		return doc, nil
	}
	return nil, &calerr.ConfigInvalidError{
		Path:  path,
		Index: -1,
		Msg:   fmt.Sprintf("line %d: document must be a mapping or a list of mappings", top.Line),
	}
}

func parseMapping(node *yaml.Node, path string, mappingIdx int) (Mapping, error) {
	var m Mapping
	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value

		if strings.HasPrefix(key, "[") && strings.HasSuffix(key, "]") {
			entry, err := parseCompoundEntry(key, valNode, path, mappingIdx)
			if err != nil {
				return nil, err
			}
			m = append(m, entry)
			continue
		}

		switch valNode.Kind {
		case yaml.ScalarNode:
			v, err := scalarFromNode(valNode, path)
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Keys: []string{key}, Choices: [][]Binding{{{Key: key, Value: v}}}})
		case yaml.SequenceNode:
			var choices [][]Binding
			for _, el := range valNode.Content {
				v, err := scalarFromNode(el, path)
				if err != nil {
					return nil, err
				}
				choices = append(choices, []Binding{{Key: key, Value: v}})
			}
			m = append(m, Entry{Keys: []string{key}, Choices: choices})
		default:
			return nil, &calerr.ConfigInvalidError{
				Path:  path,
				Index: mappingIdx,
				Msg:   fmt.Sprintf("line %d: key %q must map to a scalar or a list", valNode.Line, key),
			}
		}
	}
	return m, nil
}

// parseCompoundEntry handles keys of the literal form "[k1,k2,...]": the
// value must be a list of inner tuples, each of the key's arity, and each
// inner tuple is one atomic choice.
func parseCompoundEntry(key string, valNode *yaml.Node, path string, mappingIdx int) (Entry, error) {
	var keys []string
	for _, part := range strings.Split(strings.Trim(key, "[]"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Entry{}, &calerr.ConfigInvalidError{
				Path:  path,
				Index: mappingIdx,
				Msg:   fmt.Sprintf("compound key %q has an empty component", key),
			}
		}
		keys = append(keys, part)
	}

	if valNode.Kind != yaml.SequenceNode {
		return Entry{}, &calerr.ConfigInvalidError{
			Path:  path,
			Index: mappingIdx,
			Msg:   fmt.Sprintf("line %d: compound key %q must map to a list of tuples", valNode.Line, key),
		}
	}

	var choices [][]Binding
	for i, tupleNode := range valNode.Content {
		if tupleNode.Kind != yaml.SequenceNode {
			return Entry{}, &calerr.ConfigInvalidError{
				Path:  path,
				Index: i,
				Msg:   fmt.Sprintf("line %d: compound key %q element %d is not a tuple", tupleNode.Line, key, i),
			}
		}
		if len(tupleNode.Content) != len(keys) {
			return Entry{}, &calerr.ConfigInvalidError{
				Path:  path,
				Index: i,
				Msg: fmt.Sprintf("compound key %q element %d has arity %d, want %d",
					key, i, len(tupleNode.Content), len(keys)),
			}
		}
		choice := make([]Binding, len(keys))
		for j, el := range tupleNode.Content {
			v, err := scalarFromNode(el, path)
			if err != nil {
				return Entry{}, err
			}
			choice[j] = Binding{Key: keys[j], Value: v}
		}
		choices = append(choices, choice)
	}
	return Entry{Keys: keys, Choices: choices}, nil
}

// Expand enumerates the document's argument tuples in deterministic order:
// per mapping, the cartesian product of its entries with the last entry
// varying fastest; mappings concatenate in input order. An empty document
// yields exactly one empty tuple.
func Expand(doc Document) []Tuple {
	if len(doc) == 0 {
		return []Tuple{{}}
	}

	var tuples []Tuple
	for _, m := range doc {
		tuples = append(tuples, expandMapping(m)...)
	}
	return tuples
}

func expandMapping(m Mapping) []Tuple {
	tuples := []Tuple{{}}
	for _, entry := range m {
		if len(entry.Choices) == 0 {
			continue
		}
		next := make([]Tuple, 0, len(tuples)*len(entry.Choices))
		for _, t := range tuples {
			for _, choice := range entry.Choices {
				bindings := make([]Binding, 0, len(t.Bindings)+len(choice))
				bindings = append(bindings, t.Bindings...)
				bindings = append(bindings, choice...)
				next = append(next, Tuple{Bindings: bindings})
			}
		}
		tuples = next
	}
	return tuples
}

// ParseArgv re-parses argv tokens produced by Tuple.Argv back into bindings.
// A flag followed by another flag (or end of input) parses as boolean true.
func ParseArgv(argv []string) []Binding {
	var bindings []Binding
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		if !strings.HasPrefix(tok, "--") {
			continue
		}
		key := strings.TrimPrefix(tok, "--")
		if i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "--") {
			bindings = append(bindings, Binding{Key: key, Value: Scalar{Kind: KindString, Raw: argv[i+1]}})
			i++
			continue
		}
		bindings = append(bindings, Binding{Key: key, Value: Scalar{Kind: KindBool, Bool: true}})
	}
	return bindings
}
