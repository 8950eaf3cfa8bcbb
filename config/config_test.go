package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/indexer"
	"log-indexer/logformat"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	format, err := cfg.Format()
	require.NoError(t, err)
	assert.True(t, format.Has(logformat.FieldCategory))
	assert.Equal(t, indexer.DefaultKeys(), cfg.Aggregations)
	assert.Equal(t, 2, cfg.Tablespace.Partitions)
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
log_format:
  regex: '^([^ ]*) +[^ ]* +([^ ]*) +\[([^\]]*)\] +"([^ ]*) ([^ ]*) [^ ]*" ([^ ]*) ([^ ]*).*$'
  fields: [ip, user, time, method, page, code, size]
aggregations:
  - metric: ALL
  - metric: USER
  - metric: USER_PAGE
    group_by: [user, page]
dataflow:
  reducers: 8
tablespace:
  name: weblogs
  partitions: 4
  sampling:
    type: head
    size: 100
s3:
  region: eu-west-1
  use_path_style: true
qnode:
  http_addr: ":9000"
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	format, err := cfg.Format()
	require.NoError(t, err)
	assert.False(t, format.Has(logformat.FieldCategory))

	assert.Equal(t, []indexer.AggregationKey{
		{Metric: "ALL", Fields: nil},
		{Metric: "USER", Fields: []string{"user"}},
		{Metric: "USER_PAGE", Fields: []string{"user", "page"}},
	}, cfg.Aggregations)
	assert.Equal(t, 8, cfg.Dataflow.Reducers)
	assert.Equal(t, Default().Dataflow.SortBuffer, cfg.Dataflow.SortBuffer)
	assert.Equal(t, "weblogs", cfg.Tablespace.Name)
	assert.Equal(t, 4, cfg.Tablespace.Partitions)
	assert.Equal(t, 1, cfg.Tablespace.Replication)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, ":9000", cfg.QNode.HTTPAddr)
	assert.Equal(t, ":5433", cfg.QNode.SQLAddr)

	s, err := cfg.Sampler()
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestLoadConfigInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"yaml":             "log_format: [",
		"category missing": "log_format:\n  regex: '^(a) (b) (c)$'\n  fields: [ip, time, page]\naggregations:\n  - metric: CATEGORY\n",
		"group count":      "log_format:\n  regex: '^(a) (b)$'\n  fields: [ip, time, page]\n",
		"duplicate metric": "aggregations:\n  - metric: IP\n  - metric: IP\n",
		"partitions":       "tablespace:\n  partitions: 0\n",
		"sampling":         "tablespace:\n  sampling:\n    type: random\n",
		"workers":          "dataflow:\n  workers: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
