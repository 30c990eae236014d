package datasrc

import (
	"fmt"
	"os"

	"jabberwocky238/jw238memmgr/internal/types"

	"gopkg.in/yaml.v3"
)

// Data source types.
const (
	TypeMasterFiles = "MasterFiles"
	TypePostgreSQL  = "PostgreSQL"
	TypeStatic      = "static"
)

// Cache (segment) types.
const (
	CacheMapped = "mapped"
	CacheLocal  = "local"
)

// Config is one generation of data source configuration.
type Config struct {
	Classes map[string][]SourceConfig `yaml:"classes"`
}

// SourceConfig describes a single data source of a class.
type SourceConfig struct {
	Name        string `yaml:"name"` // defaults to Type
	Type        string `yaml:"type"`
	CacheEnable bool   `yaml:"cache_enable"`
	CacheType   string `yaml:"cache_type"`

	// MasterFiles: zone name -> zone file path.
	// static: "version" and "authors" TXT strings.
	Params map[string]string `yaml:"params"`

	// PostgreSQL connection and schema.
	DSN          string `yaml:"dsn"`
	ZonesTable   string `yaml:"zones_table"`
	RecordsTable string `yaml:"records_table"`
}

// SourceName returns the configured name, or the type when unnamed.
func (s SourceConfig) SourceName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// SegmentType returns the type of memory segment the source is cached in,
// or "" when it is not cached.
func (s SourceConfig) SegmentType() string {
	if !s.CacheEnable {
		return ""
	}
	if s.CacheType == "" {
		return CacheLocal
	}
	return s.CacheType
}

// ParseConfig decodes and validates a YAML data source configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses the data source configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasrc config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks class names, source types and zone names.
func (c *Config) Validate() error {
	for class, sources := range c.Classes {
		if _, err := types.ParseClass(class); err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, src := range sources {
			name := src.SourceName()
			if name == "" {
				return fmt.Errorf("class %s: data source without type", class)
			}
			if seen[name] {
				return fmt.Errorf("class %s: duplicate data source %q", class, name)
			}
			seen[name] = true

			switch src.SegmentType() {
			case "", CacheLocal, CacheMapped:
			default:
				return fmt.Errorf("class %s: data source %q: unknown cache type %q", class, name, src.CacheType)
			}

			switch src.Type {
			case TypeMasterFiles:
				for zone := range src.Params {
					if _, err := types.CanonicalZone(zone); err != nil {
						return fmt.Errorf("class %s: data source %q: %w", class, name, err)
					}
				}
			case TypePostgreSQL:
				if src.DSN == "" {
					return fmt.Errorf("class %s: data source %q: dsn is required", class, name)
				}
			case TypeStatic:
			default:
				return fmt.Errorf("class %s: data source %q: unknown type %q", class, name, src.Type)
			}
		}
	}
	return nil
}
