package qnode

import (
	"errors"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	SQLAddr  string `yaml:"sql_addr"`
	// DataDir holds the replicas of every deployed tablespace version.
	DataDir         string `yaml:"data_dir"`
	CopyParallelism int    `yaml:"copy_parallelism"`
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":4412",
		SQLAddr:         ":5433",
		DataDir:         "qnode-data",
		CopyParallelism: 4,
	}
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" || c.SQLAddr == "" {
		return errors.New("qnode http and sql addresses are required")
	}
	if c.DataDir == "" {
		return errors.New("qnode data directory is required")
	}
	if c.CopyParallelism < 1 {
		return errors.New("qnode copy parallelism must be positive")
	}
	return nil
}
