package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models portal.yml.
type Config struct {
	Backend struct {
		BaseURL   string            `yaml:"base_url"`
		APIPrefix string            `yaml:"api_prefix"`
		Timeout   Duration          `yaml:"timeout"`
		Headers   map[string]string `yaml:"headers"`
	} `yaml:"backend"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Activity struct {
		Limit int `yaml:"limit"`
	} `yaml:"activity"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Journal struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"journal"`
	Catalog struct {
		Entities map[string]CatalogEntity `yaml:"entities"`
	} `yaml:"catalog"`
}

// CatalogEntity is one entity type of the details catalog.
type CatalogEntity struct {
	IDPattern    string   `yaml:"id_pattern"`
	Details      string   `yaml:"details"`
	Capabilities []string `yaml:"capabilities"`
}

// Duration accepts Go duration strings such as "25s" in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("config.backend.base_url is required")
	}
	if c.Backend.Timeout.Duration <= 0 {
		return fmt.Errorf("config.backend.timeout must be positive")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config.cache.size must be positive")
	}
	if c.Activity.Limit < 0 {
		return fmt.Errorf("config.activity.limit must not be negative")
	}
	for typ, ent := range c.Catalog.Entities {
		if typ == "" {
			return fmt.Errorf("config.catalog.entities contains empty type")
		}
		if ent.IDPattern == "" {
			return fmt.Errorf("catalog entity %s has empty id_pattern", typ)
		}
		if !strings.Contains(ent.Details, "{id}") {
			return fmt.Errorf("catalog entity %s details must contain {id}", typ)
		}
		for _, c := range ent.Capabilities {
			if c == "" {
				return fmt.Errorf("catalog entity %s has empty capability", typ)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "portal.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with portal config print > %s", path, path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values, except catalog entities which are
// replaced wholesale when present.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	var overlay struct {
		Catalog struct {
			Entities map[string]CatalogEntity `yaml:"entities"`
		} `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if overlay.Catalog.Entities != nil {
		cfg.Catalog.Entities = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `backend:
  base_url: http://127.0.0.1:5000
  api_prefix: /api
  timeout: 25s

cache:
  size: 256

activity:
  limit: 20

server:
  addr: 127.0.0.1:8080
  base_path: /v0

journal:
  enabled: true

catalog:
  entities:
    order:
      id_pattern: '(?i)^([a-z]{3}\d*-)?(po|so|wo)-\d+$'
      details: /order/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    service:
      id_pattern: '(?i)^([a-z]{3}\d*-)?srv-\d+$'
      details: /services/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    report:
      id_pattern: '(?i)^([a-z]{3}\d*-)?rpt-\d+$'
      details: /reports/{id}/details
      capabilities: [detail, tombstone, archive]
    feedback:
      id_pattern: '(?i)^([a-z]{3}\d*-)?fbk-\d+$'
      details: /feedback/{id}/details
      capabilities: [detail, tombstone, archive]
    product:
      id_pattern: '(?i)^prd-\d+$'
      details: /catalog/products/{id}/details
      capabilities: [detail, tombstone, archive]
    manager:
      id_pattern: '(?i)^mgr-\d+$'
      details: /profile/manager/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    contractor:
      id_pattern: '(?i)^con-\d+$'
      details: /profile/contractor/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    customer:
      id_pattern: '(?i)^cus-\d+$'
      details: /profile/customer/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    center:
      id_pattern: '(?i)^ctr-\d+$'
      details: /profile/center/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    crew:
      id_pattern: '(?i)^crw-\d+$'
      details: /profile/crew/{id}/details
      capabilities: [detail, tombstone, archive, restore]
    warehouse:
      id_pattern: '(?i)^whs-\d+$'
      details: /profile/warehouse/{id}/details
      capabilities: [detail, tombstone, archive, restore]
`
