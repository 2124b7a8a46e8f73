// Package buildplan deterministically synthesizes a container build recipe
// from a project directory.
package buildplan

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"caliban/internal/calerr"
	"caliban/internal/hashutil"
	"caliban/internal/registry"
)

// Fixed in-container paths.
const (
	ContainerWorkdir = "/usr/app"
	credsKeyFile     = "/.creds/caliban_key.json"
	adcFile          = "/.config/gcloud/application_default_credentials.json"
	sqlProxyPath     = "/usr/local/bin/cloud_sql_proxy"
)

// Context names the planner stages credential material under.
const (
	stagedKeyName = "caliban_key.json"
	stagedADCName = "caliban_adc.json"
)

// Input is everything the planner needs for one build.
type Input struct {
	ProjectDir string
	Mode       registry.Mode
	ModuleSpec string

	// Extras are user-requested dependency extras, installed in addition to
	// the mode-appropriate set.
	Extras []string

	// ExtraDirs are additional directories copied into the image, in the
	// order the user listed them. Paths are resolved against ProjectDir.
	ExtraDirs []string

	// Config overrides the project configuration document; nil loads it from
	// ProjectDir.
	Config *ProjectConfig

	// LocalSubmission marks builds whose image will also run on this host.
	LocalSubmission bool

	// Credential material discovered by the caller; empty paths skip the
	// corresponding layer.
	ServiceAccountKeyPath string
	ADCPath               string
}

// Directive is one ordered build-recipe step.
type Directive struct {
	Op   string
	Args []string
}

// Recipe is a deterministic, ordered description of layers and build context
// sufficient to reproduce an image.
type Recipe struct {
	BaseImage  string
	Directives []Directive

	// ContextFiles is the build-context manifest: project files sorted, then
	// each extra directory's files in the user's directory order.
	ContextFiles []string

	// Stage maps context-relative names to host paths the builder must copy
	// into the context before building.
	Stage map[string]string

	// Warnings are non-fatal findings surfaced to the user.
	Warnings []string
}

// Render serializes the recipe as a Dockerfile. Identical inputs render
// byte-identical output so the builder's layer cache stays effective.
func (r *Recipe) Render() string {
	var b strings.Builder
	for _, d := range r.Directives {
		b.WriteString(d.Op)
		for _, a := range d.Args {
			b.WriteByte(' ')
			b.WriteString(a)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Hash returns the content digest of the rendered recipe plus the context
// manifest; it identifies the image a build of this recipe would produce.
func (r *Recipe) Hash() string {
	var b strings.Builder
	b.WriteString(r.Render())
	for _, f := range r.ContextFiles {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return hashutil.Hex([]byte(b.String()))
}

// Plan produces the build recipe for one invocation. It is a pure function
// of its input and the project directory's contents.
func Plan(in Input) (*Recipe, error) {
	if in.Mode == registry.ModeGPU && in.LocalSubmission && runtime.GOOS != "linux" {
		return nil, &calerr.PlatformUnsupportedError{
			Mode:   string(in.Mode),
			Reason: "GPU containers require a linux host for local submission",
		}
	}

	cfg := in.Config
	if cfg == nil {
		var err error
		cfg, err = LoadProjectConfig(in.ProjectDir)
		if err != nil {
			return nil, err
		}
	}

	entrypoint, err := ParseModuleSpec(in.ModuleSpec)
	if err != nil {
		return nil, err
	}

	base, err := ResolveBaseImage(cfg, in.Mode)
	if err != nil {
		return nil, err
	}

	contextFiles, err := EnumerateContext(in.ProjectDir, in.ExtraDirs)
	if err != nil {
		return nil, err
	}

	recipe := &Recipe{
		BaseImage:    base,
		ContextFiles: contextFiles,
		Stage:        map[string]string{},
	}
	add := func(op string, args ...string) {
		recipe.Directives = append(recipe.Directives, Directive{Op: op, Args: args})
	}

	add("FROM", base)

	if pkgs := aptList(cfg, in.Mode); len(pkgs) > 0 {
		add("RUN", "apt-get update &&",
			"apt-get install --no-install-recommends -y", strings.Join(pkgs, " "), "&&",
			"rm -rf /var/lib/apt/lists/*")
	}

	add("WORKDIR", ContainerWorkdir)

	if in.ServiceAccountKeyPath != "" {
		recipe.Stage[stagedKeyName] = in.ServiceAccountKeyPath
		add("COPY", stagedKeyName, credsKeyFile)
		add("ENV", "GOOGLE_APPLICATION_CREDENTIALS="+credsKeyFile)
	}
	if in.ADCPath != "" {
		recipe.Stage[stagedADCName] = in.ADCPath
		add("COPY", stagedADCName, adcFile)
	}

	if cfg.CloudSQLProxy != nil {
		add("RUN", "wget -q -O", sqlProxyPath,
			"https://dl.google.com/cloudsql/cloud_sql_proxy.linux.amd64 &&",
			"chmod +x", sqlProxyPath)
	}

	hasRequirements := fileExists(filepath.Join(in.ProjectDir, "requirements.txt"))
	hasSetup := fileExists(filepath.Join(in.ProjectDir, "setup.py"))

	if hasRequirements {
		add("COPY", "requirements.txt", ".")
	}
	if hasSetup {
		add("COPY", "setup.py", ".")
	}
	switch {
	case hasSetup:
		add("RUN", "pip install --no-cache-dir", "."+extrasSuffix(in.Mode, in.Extras))
	case hasRequirements:
		if len(in.Extras) > 0 {
			recipe.Warnings = append(recipe.Warnings,
				fmt.Sprintf("extras %v requested but the project has no setup.py; installing requirements.txt only", in.Extras))
		}
		add("RUN", "pip install --no-cache-dir -r requirements.txt")
	default:
		recipe.Warnings = append(recipe.Warnings,
			"no requirements.txt or setup.py found; skipping dependency installation")
	}

	add("COPY", ".", ".")
	for _, dir := range in.ExtraDirs {
		name := filepath.Base(dir)
		add("COPY", name, name)
	}

	cmd := entrypoint.Command()
	quoted := make([]string, len(cmd))
	for i, c := range cmd {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	add("ENTRYPOINT", "["+strings.Join(quoted, ", ")+"]")

	return recipe, nil
}

// aptList returns the sorted, deduplicated system package list for mode. The
// cloud SQL proxy layer needs wget, so configuring the proxy implies it.
func aptList(cfg *ProjectConfig, mode registry.Mode) []string {
	pkgs := cfg.AptPackages.ForMode(mode)
	if cfg.CloudSQLProxy != nil {
		pkgs = append(pkgs, "wget")
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range pkgs {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// extrasSuffix renders the pip extras selector: the mode extra first, then
// user-requested extras in the order given.
func extrasSuffix(mode registry.Mode, extras []string) string {
	all := []string{ModeTag(mode)}
	for _, e := range extras {
		if e != all[0] {
			all = append(all, e)
		}
	}
	return "[" + strings.Join(all, ",") + "]"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
