package buildplan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// writeProject lays out a minimal project tree for planning tests.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestPlan_ByteIdentical(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"requirements.txt": "numpy\n",
		"trainer/train.py": "print('hi')\n",
	})
	in := Input{ProjectDir: dir, Mode: registry.ModeCPU, ModuleSpec: "trainer.train"}

	first, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	second, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if first.Render() != second.Render() {
		t.Error("expected byte-identical recipes for identical inputs")
	}
	if first.Hash() != second.Hash() {
		t.Error("expected identical recipe hashes for identical inputs")
	}
}

func TestPlan_LayerOrdering(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"requirements.txt": "numpy\n",
		"setup.py":         "from setuptools import setup\n",
		"trainer/train.py": "",
		"key.json":         "{}",
	})
	cfg := &ProjectConfig{
		AptPackages:   AptPackages{Shared: []string{"git", "curl", "git"}},
		CloudSQLProxy: &CloudSQLProxy{Project: "p", Region: "r", DB: "d"},
	}
	recipe, err := Plan(Input{
		ProjectDir:            dir,
		Mode:                  registry.ModeGPU,
		ModuleSpec:            "trainer.train",
		Extras:                []string{"viz"},
		Config:                cfg,
		ServiceAccountKeyPath: filepath.Join(dir, "key.json"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	rendered := recipe.Render()
	ops := make([]string, len(recipe.Directives))
	for i, d := range recipe.Directives {
		ops[i] = d.Op
	}

	// Base first, entrypoint last.
	if ops[0] != "FROM" {
		t.Errorf("expected FROM first, got %s", ops[0])
	}
	if ops[len(ops)-1] != "ENTRYPOINT" {
		t.Errorf("expected ENTRYPOINT last, got %s", ops[len(ops)-1])
	}

	// Apt packages are sorted and deduplicated; wget is implied by the proxy.
	if !strings.Contains(rendered, "curl git wget") {
		t.Errorf("expected sorted deduplicated apt list, got:\n%s", rendered)
	}

	// Credentials precede the proxy install, which precedes pip.
	keyIdx := strings.Index(rendered, "caliban_key.json")
	proxyIdx := strings.Index(rendered, "cloud_sql_proxy")
	pipIdx := strings.Index(rendered, "pip install")
	if keyIdx < 0 || proxyIdx < 0 || pipIdx < 0 || !(keyIdx < proxyIdx && proxyIdx < pipIdx) {
		t.Errorf("expected credentials -> proxy -> pip ordering, got:\n%s", rendered)
	}

	// GPU mode installs the gpu extra plus the requested one.
	if !strings.Contains(rendered, ".[gpu,viz]") {
		t.Errorf("expected gpu extras selector, got:\n%s", rendered)
	}
	if !strings.Contains(rendered, "GOOGLE_APPLICATION_CREDENTIALS=") {
		t.Error("expected credentials env var")
	}
}

func TestPlan_RequirementsOnlyWithExtrasWarns(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"requirements.txt": "numpy\n",
		"train.py":         "",
	})
	recipe, err := Plan(Input{
		ProjectDir: dir,
		Mode:       registry.ModeCPU,
		ModuleSpec: "train.py",
		Extras:     []string{"viz"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(recipe.Warnings) == 0 {
		t.Error("expected a warning for extras without setup.py")
	}
	if !strings.Contains(recipe.Render(), "-r requirements.txt") {
		t.Error("expected requirements install")
	}
}

func TestPlan_MissingExtraDir(t *testing.T) {
	dir := writeProject(t, map[string]string{"train.py": ""})
	_, err := Plan(Input{
		ProjectDir: dir,
		Mode:       registry.ModeCPU,
		ModuleSpec: "train.py",
		ExtraDirs:  []string{"no-such-dir"},
	})
	if err == nil {
		t.Fatal("expected error for missing extra directory")
	}
	if _, ok := err.(*calerr.RecipeInvalidError); !ok {
		t.Errorf("expected RecipeInvalidError, got %T", err)
	}
}

func TestPlan_ExtraDirsCopiedInOrder(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"train.py":    "",
		"zdata/a.bin": "x",
		"adata/b.bin": "y",
	})
	recipe, err := Plan(Input{
		ProjectDir: dir,
		Mode:       registry.ModeCPU,
		ModuleSpec: "train.py",
		ExtraDirs:  []string{"zdata", "adata"},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	rendered := recipe.Render()
	zIdx := strings.Index(rendered, "COPY zdata")
	aIdx := strings.Index(rendered, "COPY adata")
	if zIdx < 0 || aIdx < 0 || zIdx > aIdx {
		t.Errorf("expected extra dirs copied in user order, got:\n%s", rendered)
	}

	// The manifest lists project files first, then extra dirs in user order.
	var manifest []string
	manifest = append(manifest, recipe.ContextFiles...)
	if manifest[len(manifest)-2] != "zdata/a.bin" || manifest[len(manifest)-1] != "adata/b.bin" {
		t.Errorf("unexpected manifest tail: %v", manifest)
	}
}

func TestEnumerateContext_HonorsIgnoreList(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"train.py":      "",
		".dockerignore": "build\n*.log\n",
		"build/out.bin": "binary",
		"run.log":       "log",
		"src/model.py":  "",
	})
	files, err := EnumerateContext(dir, nil)
	if err != nil {
		t.Fatalf("EnumerateContext failed: %v", err)
	}
	for _, f := range files {
		if strings.HasPrefix(f, "build/") || strings.HasSuffix(f, ".log") {
			t.Errorf("excluded file %s enumerated", f)
		}
	}
}

func TestParseModuleSpec(t *testing.T) {
	cases := []struct {
		spec string
		kind EntrypointKind
		cmd  string
	}{
		{"a.b.c", PyModule, "python -m a.b.c"},
		{"path/to/file.py", PyScript, "python path/to/file.py"},
		{"scripts/launch.sh", Shell, "/bin/bash scripts/launch.sh"},
	}
	for _, tc := range cases {
		ep, err := ParseModuleSpec(tc.spec)
		if err != nil {
			t.Fatalf("ParseModuleSpec(%q) failed: %v", tc.spec, err)
		}
		if ep.Kind != tc.kind {
			t.Errorf("ParseModuleSpec(%q): expected kind %v, got %v", tc.spec, tc.kind, ep.Kind)
		}
		if got := strings.Join(ep.Command(), " "); got != tc.cmd {
			t.Errorf("ParseModuleSpec(%q): expected command %q, got %q", tc.spec, tc.cmd, got)
		}
	}

	if _, err := ParseModuleSpec(""); err == nil {
		t.Error("expected error for empty module spec")
	}
}

func TestResolveBaseImage(t *testing.T) {
	cases := []struct {
		name string
		cfg  *ProjectConfig
		mode registry.Mode
		want string
	}{
		{"default cpu", nil, registry.ModeCPU, "gcr.io/blueshift-playground/blueshift:cpu"},
		{"default gpu", nil, registry.ModeGPU, "gcr.io/blueshift-playground/blueshift:gpu"},
		{"tpu host uses cpu image", nil, registry.ModeTPU, "gcr.io/blueshift-playground/blueshift:cpu"},
		{
			"placeholder substitution",
			&ProjectConfig{BaseImage: BaseImageSpec{Shared: "gcr.io/my/image:{}-latest"}},
			registry.ModeGPU,
			"gcr.io/my/image:gpu-latest",
		},
		{
			"dlvm short form",
			&ProjectConfig{BaseImage: BaseImageSpec{Shared: "dlvm:tf2-gpu-2.2"}},
			registry.ModeGPU,
			"gcr.io/deeplearning-platform-release/tf2-gpu.2-2",
		},
		{
			"per-mode map",
			&ProjectConfig{BaseImage: BaseImageSpec{CPU: "python:3.9", GPU: "nvidia/cuda:11.0-base"}},
			registry.ModeCPU,
			"python:3.9",
		},
	}
	for _, tc := range cases {
		got, err := ResolveBaseImage(tc.cfg, tc.mode)
		if err != nil {
			t.Fatalf("%s: ResolveBaseImage failed: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestLoadProjectConfig(t *testing.T) {
	dir := writeProject(t, map[string]string{
		ConfigFileName: `
apt_packages:
  cpu: [git]
  gpu: [git, nvtop]
base_image:
  cpu: python:3.9
  gpu: nvidia/cuda:11.0-base
cloud_sql_proxy:
  project: my-proj
  region: us-central1
  db: metrics
`,
	})
	cfg, err := LoadProjectConfig(dir)
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if len(cfg.AptPackages.ForMode(registry.ModeGPU)) != 2 {
		t.Errorf("unexpected gpu apt packages: %v", cfg.AptPackages.ForMode(registry.ModeGPU))
	}
	if cfg.BaseImage.ForMode(registry.ModeCPU) != "python:3.9" {
		t.Errorf("unexpected cpu base image: %s", cfg.BaseImage.ForMode(registry.ModeCPU))
	}
	if cfg.CloudSQLProxy == nil || cfg.CloudSQLProxy.Project != "my-proj" {
		t.Errorf("unexpected cloud sql proxy config: %+v", cfg.CloudSQLProxy)
	}
}

func TestLoadProjectConfig_Missing(t *testing.T) {
	cfg, err := LoadProjectConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProjectConfig failed: %v", err)
	}
	if cfg.CloudSQLProxy != nil {
		t.Error("expected empty config for missing file")
	}
}
