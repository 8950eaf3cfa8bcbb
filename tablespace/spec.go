// Package tablespace turns tuple files into a range partitioned set of
// parquet tables that a query node can serve.
package tablespace

import (
	"errors"
	"fmt"

	"log-indexer/schema"
)

// TableSpec describes one table of a tablespace.
type TableSpec struct {
	Name string `yaml:"name" json:"name"`
	// Input is the URI of a tuple file directory.
	Input string `yaml:"input" json:"input"`
	// Columns declares the schema. When empty it is inferred from the
	// first tuple.
	Columns     schema.ColumnSchema `yaml:"columns" json:"columns,omitempty"`
	PartitionBy []string            `yaml:"partition_by" json:"partition_by"`
}

type Spec struct {
	Name       string      `yaml:"name" json:"name"`
	Partitions int         `yaml:"partitions" json:"partitions"`
	Tables     []TableSpec `yaml:"tables" json:"tables"`
}

func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("tablespace name is required")
	}
	if s.Partitions < 1 {
		return fmt.Errorf("tablespace %s: partitions must be positive, got %d", s.Name, s.Partitions)
	}
	if len(s.Tables) == 0 {
		return fmt.Errorf("tablespace %s has no tables", s.Name)
	}

	seen := make(map[string]bool, len(s.Tables))
	keyLen := len(s.Tables[0].PartitionBy)
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("tablespace %s: table without name", s.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("tablespace %s: duplicate table %s", s.Name, t.Name)
		}
		seen[t.Name] = true
		if t.Input == "" {
			return fmt.Errorf("table %s: input is required", t.Name)
		}
		if len(t.PartitionBy) == 0 {
			return fmt.Errorf("table %s: partition key is required", t.Name)
		}
		if len(t.PartitionBy) != keyLen {
			return fmt.Errorf("table %s: partition key has %d columns, expected %d", t.Name, len(t.PartitionBy), keyLen)
		}
		if len(t.Columns) > 0 {
			if err := t.Columns.Validate(); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
			for _, c := range t.PartitionBy {
				if t.Columns.Index(c) < 0 {
					return fmt.Errorf("table %s: partition column %s not declared", t.Name, c)
				}
			}
		}
	}
	return nil
}
