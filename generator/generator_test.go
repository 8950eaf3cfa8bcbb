package generator

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-indexer/logformat"
	"log-indexer/storage"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func countLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestGenerateLineCount(t *testing.T) {
	for _, opts := range []Options{
		{Users: 3, PagesPerUser: 4, Days: 2, PagesInSystem: 10},
		{Users: 1, PagesPerUser: 1, Days: 1, PagesInSystem: 1},
		{Users: 0, PagesPerUser: 5, Days: 5, PagesInSystem: 10},
		{Users: 5, PagesPerUser: 0, Days: 5},
		{Users: 5, PagesPerUser: 5, Days: 0},
	} {
		var buf bytes.Buffer
		n, err := Generate(&buf, opts, rand.New(rand.NewPCG(1, 2)), now)
		require.NoError(t, err)
		assert.Equal(t, opts.Users*opts.Days*opts.PagesPerUser, n)
		assert.Len(t, countLines(t, &buf), n)
	}
}

func TestGeneratedLinesParse(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Users: 4, PagesPerUser: 3, Days: 3, PagesInSystem: 7, Categories: []string{"books"}}
	_, err := Generate(&buf, opts, rand.New(rand.NewPCG(3, 4)), now)
	require.NoError(t, err)

	format := logformat.Apache()
	addrByUser := map[string]string{}
	for _, line := range countLines(t, &buf) {
		rec, err := format.Parse(line)
		require.NoError(t, err, line)

		assert.Equal(t, "books", rec.Category)
		assert.True(t, strings.HasPrefix(rec.Path, "page"))
		assert.True(t, strings.HasPrefix(rec.UserID, "user"))
		assert.False(t, rec.Timestamp.After(now))
		assert.False(t, rec.Timestamp.Before(now.Add(-time.Duration(opts.Days)*24*time.Hour)))

		if addr, ok := addrByUser[rec.UserID]; ok {
			assert.Equal(t, addr, rec.ClientAddress)
		}
		addrByUser[rec.UserID] = rec.ClientAddress
	}
	assert.Len(t, addrByUser, opts.Users)
}

func TestGenerateRejectsInvalidOptions(t *testing.T) {
	_, err := Generate(io.Discard, Options{Users: -1}, rand.New(rand.NewPCG(1, 1)), now)
	require.Error(t, err)

	_, err = Generate(io.Discard, Options{Users: 1, PagesPerUser: 1, Days: 1}, rand.New(rand.NewPCG(1, 1)), now)
	require.Error(t, err)
}

func TestGenerateTo(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocal(t.TempDir())

	n, err := GenerateTo(ctx, store, "logs/access.log", DefaultOptions(), rand.New(rand.NewPCG(5, 6)), now)
	require.NoError(t, err)
	assert.Equal(t, 100*15*10, n)

	r, err := store.Read(ctx, "logs/access.log")
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, countLines(t, r), n)
}
