package qnode

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/dataflow"
	"log-indexer/deploy"
	"log-indexer/storage"
	"log-indexer/tablespace"
)

// generate writes a two-partition tablespace with users rows to a new
// directory and returns it.
func generate(t *testing.T, users int) string {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	local := storage.NewLocal("")

	w, err := local.Create(ctx, filepath.Join(root, "logs", dataflow.TuplePartFile))
	require.NoError(t, err)
	tw, err := dataflow.NewTupleWriter(w, dataflow.NewFields("user", "code"))
	require.NoError(t, err)
	for i := 0; i < users; i++ {
		require.NoError(t, tw.Write([]any{fmt.Sprintf("user%d", i), int32(200)}))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, w.Close())

	out := filepath.Join(root, "out-indexed")
	spec := deploy.SingleTable("web", "logs", filepath.Join(root, "logs"), nil, []string{"user"}, 2)
	_, err = tablespace.NewGenerator(storage.S3Config{}, log.NewNopLogger()).
		Generate(ctx, spec, tablespace.Head(1000), out)
	require.NoError(t, err)
	return out
}

func newNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	n, err := NewNode(cfg, storage.S3Config{}, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func countRows(t *testing.T, n *Node, table string) int64 {
	t.Helper()
	var c int64
	require.NoError(t, n.DB().QueryRow("SELECT count(*) FROM "+table).Scan(&c))
	return c
}

func TestDeployAndSwap(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)

	first, err := n.Deploy(ctx, deploy.Deployment{Tablespace: "web", URI: generate(t, 10), Replication: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(10), countRows(t, n, `"web"."logs"`))
	assert.Equal(t, []TableInfo{{Name: "logs", Rows: 10}}, first.Tables)
	assert.Equal(t, 2, first.Partitions)

	for r := 0; r < 2; r++ {
		_, err := os.Stat(filepath.Join(n.dataDir, "web", first.Version, fmt.Sprintf("replica-%d", r), tablespace.MetadataFile))
		assert.NoError(t, err)
	}

	second, err := n.Deploy(ctx, deploy.Deployment{Tablespace: "web", URI: generate(t, 25), Replication: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, second.Version)
	assert.Equal(t, int64(25), countRows(t, n, `"web"."logs"`))

	_, err = os.Stat(filepath.Join(n.dataDir, "web", first.Version))
	assert.True(t, os.IsNotExist(err), "previous version must be removed")

	list := n.Tablespaces()
	require.Len(t, list, 1)
	assert.Equal(t, second.Version, list[0].Version)
}

func TestDeployErrors(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)

	_, err := n.Deploy(ctx, deploy.Deployment{Tablespace: "web", URI: t.TempDir(), Replication: 1})
	assert.Error(t, err, "missing metadata")
	_, err = n.Deploy(ctx, deploy.Deployment{Tablespace: "web", URI: generate(t, 1), Replication: 0})
	assert.Error(t, err)
	_, err = n.Deploy(ctx, deploy.Deployment{URI: generate(t, 1), Replication: 1})
	assert.Error(t, err)
	assert.Empty(t, n.Tablespaces())
}

func TestHTTPDeploy(t *testing.T) {
	n := newNode(t)
	srv := httptest.NewServer(Handler(n, prometheus.NewRegistry()))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Deploy(ctx, []deploy.Deployment{{Tablespace: "web", URI: generate(t, 5), Replication: 1}}))
	list, err := c.Tablespaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)

	err = c.Deploy(ctx, []deploy.Deployment{{Tablespace: "web", URI: filepath.Join(t.TempDir(), "nothing"), Replication: 1}})
	assert.ErrorContains(t, err, "metadata")

	err = c.Deploy(ctx, nil)
	assert.ErrorContains(t, err, "no deployments")
}

func TestNewClientAddress(t *testing.T) {
	assert.Equal(t, "http://localhost:4412", NewClient("localhost:4412").base)
	assert.Equal(t, "https://qnode", NewClient("https://qnode/").base)
}

func TestSQLEndpoint(t *testing.T) {
	ctx := context.Background()
	n := newNode(t)
	_, err := n.Deploy(ctx, deploy.Deployment{Tablespace: "web", URI: generate(t, 3), Replication: 1})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewSQLServer(n).Serve(srvCtx, ln) }()
	defer func() {
		cancel()
		ln.Close()
		assert.NoError(t, <-done)
	}()

	conn, err := pgconn.Connect(ctx, fmt.Sprintf("postgres://test@%s/web?sslmode=disable", ln.Addr()))
	require.NoError(t, err)
	defer conn.Close(ctx)

	results, err := conn.Exec(ctx, `SELECT "user", code FROM "web"."logs" ORDER BY "user"`).ReadAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 3)
	assert.Equal(t, "user0", string(results[0].Rows[0][0]))
	assert.Equal(t, "200", string(results[0].Rows[0][1]))
	assert.Equal(t, "SELECT 3", results[0].CommandTag.String())

	// a failing query keeps the connection usable
	_, err = conn.Exec(ctx, "SELECT * FROM missing_table").ReadAll()
	assert.Error(t, err)

	results, err = conn.Exec(ctx, "SELECT 1 + 1 AS two").ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "2", string(results[0].Rows[0][0]))
}
