package buildplan

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// ConfigFileName is the optional per-project configuration document.
const ConfigFileName = ".calibanconfig.yaml"

// ProjectConfig is the recognized subset of the project configuration
// document.
type ProjectConfig struct {
	AptPackages   AptPackages    `yaml:"apt_packages"`
	BaseImage     BaseImageSpec  `yaml:"base_image"`
	CloudSQLProxy *CloudSQLProxy `yaml:"cloud_sql_proxy"`
}

// CloudSQLProxy configures installation of the cloud SQL proxy binary.
type CloudSQLProxy struct {
	Project      string `yaml:"project"`
	Region       string `yaml:"region"`
	DB           string `yaml:"db"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	ArtifactRoot string `yaml:"artifact_root"`
	Debug        bool   `yaml:"debug"`
}

// AptPackages is either a flat list shared by all modes or a map with cpu and
// gpu keys.
type AptPackages struct {
	Shared []string
	CPU    []string
	GPU    []string
}

// ForMode returns the package list for the given mode. The TPU host image
// uses the CPU set.
func (a AptPackages) ForMode(mode registry.Mode) []string {
	pkgs := append([]string{}, a.Shared...)
	if mode == registry.ModeGPU {
		return append(pkgs, a.GPU...)
	}
	return append(pkgs, a.CPU...)
}

func (a *AptPackages) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&a.Shared)
	case yaml.MappingNode:
		var m struct {
			CPU []string `yaml:"cpu"`
			GPU []string `yaml:"gpu"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		a.CPU, a.GPU = m.CPU, m.GPU
		return nil
	}
	return fmt.Errorf("line %d: apt_packages must be a list or a cpu/gpu map", node.Line)
}

// BaseImageSpec is either a single image reference shared by all modes or a
// map with cpu and gpu keys. Single-brace placeholders and the dlvm:
// short-form are expanded at resolution time.
type BaseImageSpec struct {
	Shared string
	CPU    string
	GPU    string
}

// ForMode returns the configured override for mode, or "" if none.
func (b BaseImageSpec) ForMode(mode registry.Mode) string {
	if b.Shared != "" {
		return b.Shared
	}
	if mode == registry.ModeGPU {
		return b.GPU
	}
	return b.CPU
}

func (b *BaseImageSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&b.Shared)
	case yaml.MappingNode:
		var m struct {
			CPU string `yaml:"cpu"`
			GPU string `yaml:"gpu"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		b.CPU, b.GPU = m.CPU, m.GPU
		return nil
	}
	return fmt.Errorf("line %d: base_image must be a string or a cpu/gpu map", node.Line)
}

// LoadProjectConfig reads the optional configuration document from the
// project directory. A missing file yields an empty config.
func LoadProjectConfig(projectDir string) (*ProjectConfig, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, ConfigFileName))
	if os.IsNotExist(err) {
		return &ProjectConfig{}, nil
	}
	if err != nil {
		return nil, &calerr.ConfigInvalidError{Path: ConfigFileName, Index: -1, Msg: err.Error()}
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &calerr.ConfigInvalidError{Path: ConfigFileName, Index: -1, Msg: err.Error()}
	}
	return &cfg, nil
}
