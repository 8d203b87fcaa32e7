package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"code.linksmart.eu/dt/ops-console/console/env"
	"code.linksmart.eu/dt/ops-console/pipeline"
	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigFile  = "console.yml"
	DefaultBindAddr    = ":8080"
	DefaultTargetsFile = "targets.yml"
	DefaultHistorySize = 100
)

type config struct {
	BindAddr    string `yaml:"bindAddr"`
	TargetsFile string `yaml:"targetsFile"`
	// Tokens are base64 encoded sha512 hashes of the accepted X-Auth-Token values
	Tokens []string `yaml:"tokens"`

	SSH struct {
		Config         string        `yaml:"config"`
		KnownHosts     string        `yaml:"knownHosts"`
		ConnectTimeout time.Duration `yaml:"connectTimeout"`
	} `yaml:"ssh"`

	StepTimeout    time.Duration   `yaml:"stepTimeout"`
	RestartSettle  time.Duration   `yaml:"restartSettle"`
	ReschemaSettle time.Duration   `yaml:"reschemaSettle"`
	Environments   []string        `yaml:"environments"`
	Layout         pipeline.Layout `yaml:"layout"`

	HistorySize int    `yaml:"historySize"`
	ElasticURL  string `yaml:"elasticURL"`
}

// loadConfig reads the config file. A missing file gives the defaults.
func loadConfig(path string) (*config, error) {
	var c config
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Printf("config: %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("error reading config: %w", err)
	default:
		if err := yaml.UnmarshalStrict(b, &c); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
		log.Printf("config: loaded %s", path)
	}

	// environment overrides
	c.BindAddr = env.String(env.Addr, c.BindAddr)
	c.ElasticURL = env.String(env.ElasticURL, c.ElasticURL)

	if c.BindAddr == "" {
		c.BindAddr = DefaultBindAddr
	}
	if c.TargetsFile == "" {
		c.TargetsFile = DefaultTargetsFile
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.RestartSettle <= 0 {
		c.RestartSettle = pipeline.DefaultRestartSettle
	}
	if c.ReschemaSettle <= 0 {
		c.ReschemaSettle = pipeline.DefaultReschemaSettle
	}
	c.Layout = c.Layout.WithDefaults()
	return &c, c.validate()
}

func (c *config) validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("no tokens configured")
	}
	if c.Layout.MarkerLine < 1 {
		return fmt.Errorf("marker line must be positive")
	}
	return nil
}
