// Package config handles environment variable and config-file loading for
// the registry location, Kubernetes context, and cloud endpoint.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration values resolved for one CLI invocation.
type Config struct {
	// RegistryPath is the path to the single-file SQLite registry.
	RegistryPath string

	// Kubeconfig is an explicit kubeconfig path override; empty means use
	// in-cluster config, falling back to $HOME/.kube/config.
	Kubeconfig string

	// Namespace is the Kubernetes namespace jobs are created in.
	Namespace string

	// CloudEndpoint is the base URL of the managed training service.
	CloudEndpoint string

	// CloudToken authenticates requests to CloudEndpoint.
	CloudToken string
}

const defaultNamespace = "default"

// Load reads configuration from environment variables (prefixed CALIBAN_)
// and an optional $HOME/.caliban.yaml, with environment taking precedence.
func Load() (*Config, error) {
	viper.SetEnvPrefix("CALIBAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	viper.AddConfigPath(home)
	viper.SetConfigName(".caliban")
	viper.SetConfigType("yaml")
	_ = viper.ReadInConfig() // absence of a config file is not an error

	registryPath := viper.GetString("registry_path")
	if registryPath == "" {
		registryPath = filepath.Join(home, ".config", "caliban", "registry.db")
	}

	namespace := viper.GetString("namespace")
	if namespace == "" {
		namespace = defaultNamespace
	}

	return &Config{
		RegistryPath:  registryPath,
		Kubeconfig:    viper.GetString("kubeconfig"),
		Namespace:     namespace,
		CloudEndpoint: viper.GetString("cloud_endpoint"),
		CloudToken:    viper.GetString("cloud_token"),
	}, nil
}

// EnsureRegistryDir creates the parent directory of RegistryPath if missing.
func (c *Config) EnsureRegistryDir() error {
	return os.MkdirAll(filepath.Dir(c.RegistryPath), 0o755)
}
