package buildplan

import (
	"fmt"
	"strings"

	"caliban/internal/calerr"
)

// EntrypointKind tags how the module spec is executed inside the container.
type EntrypointKind int

const (
	// PyModule runs `python -m <name>` for dotted module specs like a.b.c.
	PyModule EntrypointKind = iota
	// PyScript runs `python <path>` for .py file paths.
	PyScript
	// Shell runs `/bin/bash <path>` for anything else.
	Shell
)

// Entrypoint is the resolved executable kind plus its module or path.
type Entrypoint struct {
	Kind   EntrypointKind
	Target string
}

// Command returns the in-container command tokens for the entrypoint.
func (e Entrypoint) Command() []string {
	switch e.Kind {
	case PyModule:
		return []string{"python", "-m", e.Target}
	case PyScript:
		return []string{"python", e.Target}
	default:
		return []string{"/bin/bash", e.Target}
	}
}

// ParseModuleSpec classifies a module token: a dotted name without path
// separators is a python module, a .py path is a python script, and any other
// path runs as a shell script.
func ParseModuleSpec(spec string) (Entrypoint, error) {
	if spec == "" {
		return Entrypoint{}, &calerr.RecipeInvalidError{Reason: "empty module spec"}
	}
	if strings.ContainsAny(spec, " \t") {
		return Entrypoint{}, &calerr.RecipeInvalidError{Reason: fmt.Sprintf("module spec %q contains whitespace", spec)}
	}

	if !strings.Contains(spec, "/") && !strings.HasSuffix(spec, ".py") {
		return Entrypoint{Kind: PyModule, Target: spec}, nil
	}
	if strings.HasSuffix(spec, ".py") {
		// a/b/c.py and plain c.py both run as scripts.
		return Entrypoint{Kind: PyScript, Target: spec}, nil
	}
	return Entrypoint{Kind: Shell, Target: spec}, nil
}
