package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/platform"
)

//go:embed schema.yaml
var schemaYAML []byte

// InstanceConfig represents a pre-configured managed instance in the config file.
type InstanceConfig struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	URL                string `yaml:"url"`
	TLS                bool   `yaml:"tls"`
	VerifyTLS          bool   `yaml:"verify_tls"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	CACert             string `yaml:"ca_cert"`
	HierarchyAttribute string `yaml:"hierarchy_attribute"`
	HierarchyValue     string `yaml:"hierarchy_value"`
}

// DataServiceConfig points at the service that owns settings and flows.
// When set it replaces the hierarchy, deployment_paths and flows sections.
type DataServiceConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
}

// SweepConfig paces status fetches during a health sweep.
type SweepConfig struct {
	Rate  float64 `yaml:"rate"`  // fetches per second, 0 = unpaced
	Burst int     `yaml:"burst"` // defaults to 1
}

// Config holds all configuration (CLI flags + config file).
type Config struct {
	Listen          string                            `yaml:"listen"`
	LogLevel        string                            `yaml:"log_level"`
	Timeout         string                            `yaml:"timeout"`
	Instances       []InstanceConfig                  `yaml:"instances"`
	Hierarchy       []models.HierarchyAttribute       `yaml:"hierarchy"`
	DeploymentPaths map[string]models.DeploymentPaths `yaml:"deployment_paths"`
	Flows           []*models.LogicalFlow             `yaml:"flows"`
	DataService     *DataServiceConfig                `yaml:"data_service"`
	Sweep           SweepConfig                       `yaml:"sweep"`
}

// Overrides are values given on the command line. Non-empty fields win
// over the config file.
type Overrides struct {
	Listen   string
	LogLevel string
}

// Load reads the config file at path (if any), overlays CLI overrides and
// applies defaults.
func Load(path string, o Overrides) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if c, err = Parse(data); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// CLI flags take precedence over config file values
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	c.applyDefaults()
	return c, nil
}

// Parse validates a YAML document against the config schema and decodes it.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.Sweep.Burst == 0 {
		c.Sweep.Burst = 1
	}
}

// Validate checks what the schema cannot: the hierarchy is well formed and
// instance IDs are unique.
func (c *Config) Validate() error {
	if len(c.Hierarchy) > 0 {
		if err := models.ValidateHierarchy(c.Hierarchy); err != nil {
			return fmt.Errorf("hierarchy: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, ic := range c.Instances {
		id := ic.ID
		if id == "" {
			id = ic.Name
		}
		if seen[id] {
			return fmt.Errorf("instances: duplicate id %q", id)
		}
		seen[id] = true
	}
	if _, err := time.ParseDuration(c.timeoutOrDefault()); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

func (c *Config) timeoutOrDefault() string {
	if c.Timeout == "" {
		return "30s"
	}
	return c.Timeout
}

// RequestTimeout is the per-request timeout for instance and data service calls.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.timeoutOrDefault())
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ManagedInstances converts the configured instances. An instance without
// an id uses its name, so config-defined IDs stay stable across restarts.
func (c *Config) ManagedInstances() []*models.ManagedInstance {
	out := make([]*models.ManagedInstance, 0, len(c.Instances))
	for _, ic := range c.Instances {
		id := ic.ID
		if id == "" {
			id = ic.Name
		}
		out = append(out, &models.ManagedInstance{
			ID:                 id,
			Name:               ic.Name,
			BaseURL:            ic.URL,
			UseTLS:             ic.TLS,
			VerifyTLS:          ic.VerifyTLS,
			Username:           ic.Username,
			Password:           ic.Password,
			CACert:             ic.CACert,
			HierarchyAttribute: ic.HierarchyAttribute,
			HierarchyValue:     ic.HierarchyValue,
		})
	}
	return out
}

// DataServiceEndpoint returns the data service endpoint, if configured.
func (c *Config) DataServiceEndpoint() (platform.Endpoint, bool) {
	if c.DataService == nil || c.DataService.URL == "" {
		return platform.Endpoint{}, false
	}
	return platform.Endpoint{
		BaseURL:  c.DataService.URL,
		Username: c.DataService.Username,
		Password: c.DataService.Password,
		Insecure: c.DataService.Insecure,
	}, true
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		jsonData, err := toJSON(schemaYAML)
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse schema: %w", err)
			return
		}
		compiledSchema, schemaErr = jsonschema.CompileString("config.schema.json", string(jsonData))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

func validateSchema(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	jsonData, err := toJSON(data)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if string(jsonData) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// toJSON converts a YAML document to JSON for the schema compiler.
func toJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
