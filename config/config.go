// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"log-indexer/dataflow"
	"log-indexer/indexer"
	"log-indexer/logformat"
	"log-indexer/qnode"
	"log-indexer/storage"
	"log-indexer/tablespace"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	SamplingReservoir = "reservoir"
	SamplingHead      = "head"
)

type Config struct {
	LogFormat struct {
		Regex  string   `yaml:"regex"`
		Fields []string `yaml:"fields"`
	} `yaml:"log_format"`

	Aggregations []indexer.AggregationKey `yaml:"aggregations"`

	Dataflow dataflow.Config `yaml:"dataflow"`

	Tablespace struct {
		Name        string `yaml:"name"`
		Partitions  int    `yaml:"partitions"`
		Replication int    `yaml:"replication"`
		Sampling    struct {
			Type string `yaml:"type"`
			Size int    `yaml:"size"`
			// Seed fixes the reservoir; zero seeds from the clock.
			Seed uint64 `yaml:"seed"`
		} `yaml:"sampling"`
	} `yaml:"tablespace"`

	S3 storage.S3Config `yaml:"s3"`

	QNode qnode.Config `yaml:"qnode"`
}

// Default indexes Apache access logs with a category path segment into
// two partitions.
func Default() *Config {
	var cfg Config
	cfg.LogFormat.Regex = logformat.ApacheRegex
	cfg.LogFormat.Fields = slices.Clone(logformat.ApacheFields)
	cfg.Aggregations = indexer.DefaultKeys()
	cfg.Dataflow = dataflow.DefaultConfig()
	cfg.Tablespace.Name = "access_logs"
	cfg.Tablespace.Partitions = 2
	cfg.Tablespace.Replication = 1
	cfg.Tablespace.Sampling.Type = SamplingReservoir
	cfg.Tablespace.Sampling.Size = tablespace.DefaultSampleSize
	cfg.QNode = qnode.DefaultConfig()
	return &cfg
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Aggregations = indexer.ResolveKeys(cfg.Aggregations)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	format, err := c.Format()
	if err != nil {
		return fmt.Errorf("%w: log_format: %v", ErrInvalid, err)
	}
	if err := indexer.ValidateKeys(format, c.Aggregations); err != nil {
		return fmt.Errorf("%w: aggregations: %v", ErrInvalid, err)
	}
	if err := c.Dataflow.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Tablespace.Name == "" {
		return fmt.Errorf("%w: tablespace name is required", ErrInvalid)
	}
	if c.Tablespace.Partitions < 1 || c.Tablespace.Replication < 1 {
		return fmt.Errorf("%w: tablespace partitions and replication must be positive", ErrInvalid)
	}
	if _, err := c.Sampler(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.QNode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Format compiles the configured log format.
func (c *Config) Format() (*logformat.Format, error) {
	return logformat.NewFormat(c.LogFormat.Regex, c.LogFormat.Fields)
}

// Sampler builds the configured partition key sampler.
func (c *Config) Sampler() (tablespace.Sampler, error) {
	s := c.Tablespace.Sampling
	if s.Size < 1 {
		return nil, fmt.Errorf("sample size must be positive, got %d", s.Size)
	}
	switch s.Type {
	case SamplingReservoir, "":
		seed := s.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return tablespace.Reservoir(s.Size, rand.New(rand.NewPCG(seed, seed>>1))), nil
	case SamplingHead:
		return tablespace.Head(s.Size), nil
	default:
		return nil, fmt.Errorf("unknown sampling type %q", s.Type)
	}
}
