package tablespace

import (
	"fmt"
	"io"
	"path"
)

// DataFile is one partition file of a table.
type DataFile struct {
	Path          string `json:"file-path"`
	FileFormat    string `json:"file-format"`
	Partition     int    `json:"partition"`
	RecordCount   int64  `json:"record-count"`
	FileSizeBytes int64  `json:"file-size-bytes"`
}

func partitionFile(table string, partition int) string {
	return path.Join(table, fmt.Sprintf("partition-%d.parquet", partition))
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
