package ble

import (
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleapdu/internal/catalogue"
)

// Config is the single construction-time configuration: which device
// families to accept, plus the operational timeouts this module's
// ambient stack needs.
type Config struct {
	// Families is the set of device families to scan/connect for,
	// letters from {"X","F","S","L"}. Empty falls back to all four.
	Families []string `yaml:"families" default:"[]"`

	ScanTimeout        time.Duration `yaml:"scan_timeout" default:"30s"`
	ConnectScanTimeout time.Duration `yaml:"connect_scan_timeout" default:"30s"`
	LogLevel           string        `yaml:"log_level" default:"info"`
}

// DefaultConfig returns a Config with every go-defaults tag applied:
// all four families, 30s timeouts, info-level logging.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// LoadConfig reads a YAML document from path, filling in any field it
// omits with its go-defaults value.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Save persists c as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// catalogueConfig translates the string family list into the
// internal/catalogue representation, defaulting to every family.
func (c *Config) catalogueConfig() catalogue.Config {
	if len(c.Families) == 0 {
		return catalogue.DefaultConfig()
	}
	families := make([]catalogue.Family, 0, len(c.Families))
	for _, f := range c.Families {
		switch f {
		case "X":
			families = append(families, catalogue.FamilyX)
		case "F":
			families = append(families, catalogue.FamilyF)
		case "S":
			families = append(families, catalogue.FamilyS)
		case "L":
			families = append(families, catalogue.FamilyL)
		}
	}
	return catalogue.NewConfig(families...)
}

// NewLogger builds a *logrus.Logger configured per c.LogLevel, with a
// text formatter and RFC3339 timestamps.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
