// Package configs loads the daemon configuration.
package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

type DockyardConfig struct {
	// ServerPort the HTTP API listens on.
	ServerPort string `yaml:"port"`

	Loglevel string `yaml:"loglevel"`

	// DBURI of the postgres entity store. Empty runs the in-memory store
	// (nothing survives a restart; for development only).
	DBURI string `yaml:"database"`

	// AuthSecret signs API tokens.
	AuthSecret string `yaml:"authSecret"`

	Registry RegistryConfig `yaml:"registry"`

	Discovery DiscoveryConfig `yaml:"discovery"`

	Clusters []ClusterConfig `yaml:"clusters"`
}

type RegistryConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DiscoveryConfig struct {
	// Endpoints of the etcd cluster. Empty disables discovery publishing.
	Endpoints []string `yaml:"endpoints"`

	// DialTimeoutSeconds for the initial connection check.
	DialTimeoutSeconds int `yaml:"dialTimeoutSeconds"`
}

type ClusterConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Domain  string            `yaml:"domain"`
	Hosts   []string          `yaml:"hosts"`
	Auth    string            `yaml:"auth"`
	Options map[string]string `yaml:"options"`
}

func LoadDockyardConfig(filepath string) (*DockyardConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*DockyardConfig, error) {
	out := DockyardConfig{
		ServerPort: "8000",
		Loglevel:   "info",
	}
	if err := yaml.Unmarshal(conf, &out); err != nil {
		return nil, err
	}
	if out.Discovery.DialTimeoutSeconds == 0 {
		out.Discovery.DialTimeoutSeconds = 5
	}
	return &out, nil
}
