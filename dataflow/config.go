package dataflow

import (
	"errors"
	"os"
	"runtime"
)

// Config tunes flow execution.
type Config struct {
	// Workers run the map side of the flow.
	Workers int `yaml:"workers"`
	// Reducers is the number of shuffle partitions of every GroupBy.
	Reducers int `yaml:"reducers"`
	// SortBuffer is the number of tuples a shuffle partition holds in
	// memory before spilling a sorted run.
	SortBuffer int `yaml:"sort_buffer"`
	// BatchSize is the number of source tuples handed to a worker at once.
	BatchSize int `yaml:"batch_size"`
	// TempDir holds spill files. Defaults to the system temp directory.
	TempDir string `yaml:"temp_dir"`
}

func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		Reducers:   4,
		SortBuffer: 100000,
		BatchSize:  1024,
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 || c.Reducers < 1 || c.SortBuffer < 1 || c.BatchSize < 1 {
		return errors.New("dataflow workers, reducers, sort buffer and batch size must be positive")
	}
	return nil
}

func (c Config) tempDir() string {
	if c.TempDir == "" {
		return os.TempDir()
	}
	return c.TempDir
}
