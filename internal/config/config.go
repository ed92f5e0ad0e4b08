// Package config loads and validates the kernel configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding key is absent.
const (
	DefaultPort           = 3000
	DefaultProjectID      = "default"
	DefaultRequestTimeout = 30
	DefaultMaxProjects    = 10
	DefaultJWTExpiry      = 24 * time.Hour
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Config is the full configuration tree.
type Config struct {
	Server         Server          `yaml:"server"`
	Auth           Auth            `yaml:"auth"`
	ProjectManager ProjectManager  `yaml:"project_manager"`
	Projects       []ProjectConfig `yaml:"projects"`
	LogLevel       string          `yaml:"log_level"`
}

// Server holds HTTP front-end settings.
type Server struct {
	Port                  int    `yaml:"port"`
	DefaultProject        string `yaml:"default_project"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// RequestTimeout returns the per-request deadline as a duration.
func (s Server) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Auth holds token settings for the trusted auth middleware.
type Auth struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTExpiresIn time.Duration `yaml:"jwt_expires_in"`
}

// ProjectManager bounds the number of concurrently open projects and places
// the kernel's own state (project registry, stores for projects created at
// runtime).
type ProjectManager struct {
	MaxConcurrentProjects int    `yaml:"max_concurrent_projects"`
	DataDir               string `yaml:"data_dir"`
}

// ProjectConfig declares one project.
type ProjectConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Database    string  `yaml:"database"`
	Plugins     Plugins `yaml:"plugins"`
}

// Plugins selects and configures the plugins enabled for a project.
type Plugins struct {
	AutoDiscover *bool                     `yaml:"auto_discover"`
	PluginList   []string                  `yaml:"plugin_list"`
	Settings     map[string]map[string]any `yaml:"settings"`
}

// Discover reports whether unlisted registered plugins should be enabled.
// Defaults to true.
func (p Plugins) Discover() bool {
	return p.AutoDiscover == nil || *p.AutoDiscover
}

// Load reads, parses, and validates a configuration file. Environment
// variables GAMEKERNEL_JWT_SECRET and GAMEKERNEL_PORT override file values so
// secrets can stay out of checked-in configs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if secret := strings.TrimSpace(os.Getenv("GAMEKERNEL_JWT_SECRET")); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if port := strings.TrimSpace(os.Getenv("GAMEKERNEL_PORT")); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("GAMEKERNEL_PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.DefaultProject == "" {
		c.Server.DefaultProject = DefaultProjectID
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.Auth.JWTExpiresIn == 0 {
		c.Auth.JWTExpiresIn = DefaultJWTExpiry
	}
	if c.ProjectManager.MaxConcurrentProjects == 0 {
		c.ProjectManager.MaxConcurrentProjects = DefaultMaxProjects
	}
	if c.ProjectManager.DataDir == "" {
		c.ProjectManager.DataDir = "data"
	}
}

// Validate checks the recognized keys for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("server.request_timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.ProjectManager.MaxConcurrentProjects < 1 {
		return fmt.Errorf("project_manager.max_concurrent_projects must be positive")
	}

	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if !ValidProjectID(p.ID) {
			return fmt.Errorf("project id %q is not a valid slug", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate project id %q", p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Database) == "" {
			return fmt.Errorf("project %q: database path is required", p.ID)
		}
	}
	return nil
}

// Project returns the declared project with the given id.
func (c *Config) Project(id string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

// ValidProjectID reports whether id is an acceptable project slug.
func ValidProjectID(id string) bool {
	return slugPattern.MatchString(id)
}
