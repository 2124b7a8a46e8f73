package expand

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"caliban/internal/calerr"
)

// ScalarKind tags the type of one configuration value.
type ScalarKind int

const (
	KindString ScalarKind = iota
	KindInt
	KindFloat
	KindBool
)

// Scalar is one configuration value. Raw preserves the literal text of
// numeric and string values so argv materialization reproduces the user's
// spelling.
type Scalar struct {
	Kind ScalarKind
	Bool bool
	Raw  string
}

func (s Scalar) String() string {
	if s.Kind == KindBool {
		return strconv.FormatBool(s.Bool)
	}
	return s.Raw
}

// Binding is one key=value choice produced by expansion.
type Binding struct {
	Key   string
	Value Scalar
}

// scalarFromNode converts a YAML scalar node into a tagged Scalar. Anything
// that is not a string, integer, float or boolean is rejected.
func scalarFromNode(n *yaml.Node, path string) (Scalar, error) {
	if n.Kind != yaml.ScalarNode {
		return Scalar{}, &calerr.ConfigInvalidError{
			Path:  path,
			Index: -1,
			Msg:   fmt.Sprintf("line %d: expected a scalar value", n.Line),
		}
	}
	switch n.Tag {
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return Scalar{}, &calerr.ConfigInvalidError{Path: path, Index: -1, Msg: fmt.Sprintf("line %d: bad boolean %q", n.Line, n.Value)}
		}
		return Scalar{Kind: KindBool, Bool: b}, nil
	case "!!int":
		return Scalar{Kind: KindInt, Raw: n.Value}, nil
	case "!!float":
		return Scalar{Kind: KindFloat, Raw: n.Value}, nil
	case "!!str":
		return Scalar{Kind: KindString, Raw: n.Value}, nil
	}
	return Scalar{}, &calerr.ConfigInvalidError{
		Path:  path,
		Index: -1,
		Msg:   fmt.Sprintf("line %d: unsupported value type %s", n.Line, n.Tag),
	}
}
