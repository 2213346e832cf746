package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an environment-specific configuration overlay loaded
// from YAML. Values set in a profile override the environment defaults.
type DeploymentProfile struct {
	Name string `yaml:"name"`

	Storage struct {
		Type    string `yaml:"type"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Audit struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"audit"`

	Execution struct {
		StrictRequires     bool          `yaml:"strict_requires"`
		SandboxTimeout     time.Duration `yaml:"sandbox_timeout"`
		InvalidationWindow time.Duration `yaml:"invalidation_window"`
	} `yaml:"execution"`
}

// LoadProfile loads a deployment profile YAML by name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*DeploymentProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// Apply overlays the profile onto a config, leaving unset fields alone.
func (p *DeploymentProfile) Apply(cfg *Config) {
	if p.Storage.Type != "" {
		cfg.StorageType = p.Storage.Type
	}
	if p.Storage.DataDir != "" {
		cfg.DataDir = p.Storage.DataDir
	}
	if p.Redis.Addr != "" {
		cfg.RedisAddr = p.Redis.Addr
	}
	if p.Redis.Password != "" {
		cfg.RedisPassword = p.Redis.Password
	}
	if p.Redis.DB != 0 {
		cfg.RedisDB = p.Redis.DB
	}
	if p.Audit.Driver != "" {
		cfg.AuditDriver = p.Audit.Driver
	}
	if p.Audit.DSN != "" {
		cfg.AuditDSN = p.Audit.DSN
	}
	if p.Execution.StrictRequires {
		cfg.StrictRequires = true
	}
	if p.Execution.SandboxTimeout > 0 {
		cfg.SandboxTimeout = p.Execution.SandboxTimeout
	}
	if p.Execution.InvalidationWindow > 0 {
		cfg.InvalidationWindow = p.Execution.InvalidationWindow
	}
}
