package tablespace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"log-indexer/schema"
	"log-indexer/storage"
)

const (
	FormatVersion = 1
	MetadataFile  = "metadata.json"
)

// Metadata describes a generated tablespace. It is written last, so its
// presence marks a complete generation.
type Metadata struct {
	FormatVersion int             `json:"format-version"`
	UUID          string          `json:"tablespace-uuid"`
	Name          string          `json:"name"`
	LastUpdated   int64           `json:"last-updated-ms"`
	Partitions    []Partition     `json:"partitions"`
	Tables        []TableMetadata `json:"tables"`
}

// Partition is the key range [Min, Max) of one partition. A nil bound is
// unbounded.
type Partition struct {
	Index int `json:"index"`
	Min   Key `json:"min,omitempty"`
	Max   Key `json:"max,omitempty"`
}

type TableMetadata struct {
	Name        string              `json:"name"`
	Columns     schema.ColumnSchema `json:"columns"`
	PartitionBy []string            `json:"partition-by"`
	Files       []DataFile          `json:"files"`
}

// Files returns the paths of every data file, relative to the tablespace
// directory.
func (m *Metadata) Files() []string {
	var files []string
	for _, t := range m.Tables {
		for _, f := range t.Files {
			files = append(files, f.Path)
		}
	}
	return files
}

// Records returns the number of rows of table.
func (m *Metadata) Records(table string) int64 {
	var n int64
	for _, t := range m.Tables {
		if t.Name != table {
			continue
		}
		for _, f := range t.Files {
			n += f.RecordCount
		}
	}
	return n
}

func writeMetadata(ctx context.Context, store storage.Storage, dir string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := store.Write(ctx, path.Join(dir, MetadataFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the metadata of the tablespace generated in dir.
func ReadMetadata(ctx context.Context, store storage.Storage, dir string) (*Metadata, error) {
	rc, err := store.Read(ctx, path.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("opening metadata: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported tablespace format version %d", m.FormatVersion)
	}
	return &m, nil
}
