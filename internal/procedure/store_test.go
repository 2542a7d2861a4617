package procedure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
procedures:
  - name: index_repository
    version: 1
    description: Scan and index a repository tree
    timeout_ms: 60000
    max_retries: 1
    definition:
      start: scan
      states:
        scan:
          action: {tool: fileops, operation: list}
          next: summarize
        summarize:
          action: {tool: search, operation: digest}
          end: true
  - name: index_repository
    version: 3
    description: Scan and index a repository tree, incremental
    timeout_ms: 30000
    definition:
      start: scan
      states:
        scan:
          action: {tool: fileops, operation: list}
          end: true
  - name: fetch_docs
    version: 1
    description: Pull documentation pages
    definition:
      start: fetch
      states:
        fetch:
          action: {tool: web, operation: get}
          end: true
`

func sampleStore(t *testing.T) *Catalog {
	t.Helper()
	procs, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	store, err := NewCatalog(procs)
	require.NoError(t, err)
	return store
}

func TestCatalogLatestResolution(t *testing.T) {
	store := sampleStore(t)

	p, err := store.Get(context.Background(), "index_repository", VersionLatest)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Version)

	// Empty version means latest too.
	p, err = store.Get(context.Background(), "index_repository", "")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Version)
}

func TestCatalogSpecificVersion(t *testing.T) {
	store := sampleStore(t)

	p, err := store.Get(context.Background(), "index_repository", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 60000, p.TimeoutMS)

	// A v-prefix is tolerated.
	p, err = store.Get(context.Background(), "index_repository", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
}

func TestCatalogNotFound(t *testing.T) {
	store := sampleStore(t)

	_, err := store.Get(context.Background(), "ghost", VersionLatest)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = store.Get(context.Background(), "fetch_docs", "9")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCatalogListReturnsHighestVersions(t *testing.T) {
	store := sampleStore(t)

	procs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, "fetch_docs", procs[0].Name)
	assert.Equal(t, "index_repository", procs[1].Name)
	assert.Equal(t, 3, procs[1].Version)
}

func TestCatalogRejectsBrokenGraphs(t *testing.T) {
	tests := []struct {
		name string
		proc Procedure
	}{
		{
			name: "missing start",
			proc: Procedure{Name: "p", Version: 1, Definition: Definition{
				States: map[string]State{"a": {End: true}},
			}},
		},
		{
			name: "start not defined",
			proc: Procedure{Name: "p", Version: 1, Definition: Definition{
				Start:  "missing",
				States: map[string]State{"a": {End: true}},
			}},
		},
		{
			name: "dangling next",
			proc: Procedure{Name: "p", Version: 1, Definition: Definition{
				Start:  "a",
				States: map[string]State{"a": {Next: "nowhere"}},
			}},
		},
		{
			name: "non-terminal without next",
			proc: Procedure{Name: "p", Version: 1, Definition: Definition{
				Start:  "a",
				States: map[string]State{"a": {}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog([]Procedure{tt.proc})
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogDirMissingIsEmpty(t *testing.T) {
	store, err := LoadCatalogDir(t.TempDir() + "/nonexistent")
	require.NoError(t, err)

	procs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, procs)
}
