package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/deploy"
	"log-indexer/generator"
)

func testApp(t *testing.T) (*globals, func(args ...string) error, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	g := &globals{}
	app := newApp(g).UsageWriter(&out).ErrorWriter(&out)
	return g, func(args ...string) error { return run(app, g, args) }, &out
}

func accessLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	opts := generator.Options{Users: 6, PagesPerUser: 2, Days: 1, PagesInSystem: 5, Categories: generator.DefaultCategories}
	_, err = generator.Generate(f, opts, rand.New(rand.NewPCG(1, 2)), time.Now())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

// fakeQNode accepts deployments and records them.
type fakeQNode struct {
	mu          sync.Mutex
	deployments []deploy.Deployment
}

func (q *fakeQNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ds []deploy.Deployment
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.mu.Lock()
	q.deployments = append(q.deployments, ds...)
	q.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestMissingRequiredFlagPrintsUsage(t *testing.T) {
	_, parse, out := testApp(t)

	err := parse("indexer", "--input", "in", "--output", "out")
	require.Error(t, err)
	var usage usageError
	assert.True(t, errors.As(err, &usage))

	assert.Contains(t, out.String(), "required flag")
	assert.Contains(t, out.String(), "qnode")
	// usage of the indexer command lists its flags
	assert.Contains(t, out.String(), "--input=INPUT")
	assert.Contains(t, out.String(), "--partitions=PARTITIONS")
}

func TestExplicitZeroIsRejected(t *testing.T) {
	input := accessLog(t)
	output := filepath.Join(t.TempDir(), "out")

	for _, args := range [][]string{
		{"indexer", "--qnode", "localhost:1", "--input", input, "--output", output, "--partitions", "0"},
		{"indexer", "--qnode", "localhost:1", "--input", input, "--output", output, "--replication", "0"},
		{"table", "--qnode", "localhost:1", "--input", input, "--output", output, "--table", "t", "--partition-by", "user", "--partitions", "0"},
		{"table", "--qnode", "localhost:1", "--input", input, "--output", output, "--table", "t", "--partition-by", "user", "--replication", "0"},
	} {
		_, parse, _ := testApp(t)
		err := parse(args...)
		require.Error(t, err, "%v", args)
		assert.ErrorContains(t, err, "must be positive", "%v", args)

		var usage usageError
		assert.False(t, errors.As(err, &usage), "%v", args)
	}
}

func TestIndexerUsesConfiguredDefaults(t *testing.T) {
	qn := &fakeQNode{}
	srv := httptest.NewServer(qn)
	defer srv.Close()

	input := accessLog(t)
	output := filepath.Join(t.TempDir(), "out")

	g, parse, _ := testApp(t)
	require.NoError(t, parse("indexer", "--qnode", srv.URL, "--input", input, "--output", output))

	require.Len(t, qn.deployments, 1)
	d := qn.deployments[0]
	assert.Equal(t, g.cfg.Tablespace.Name, d.Tablespace)
	assert.Equal(t, g.cfg.Tablespace.Replication, d.Replication)
	assert.Equal(t, output+deploy.IndexedSuffix, d.URI)
}
