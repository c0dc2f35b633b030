package arxiv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntries(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleFeed), "results/q.xml")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	e := entries[0]
	assert.Equal(t, "Quantum Control of Things", e.Title)
	assert.Equal(t, "We study quantum control.", e.Summary)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, e.Authors)
	assert.Equal(t, []string{"quant-ph", "math.OC"}, e.Categories)
	assert.Equal(t, "2101.00001v1", e.DocumentID)
	assert.Equal(t, "http://arxiv.org/pdf/2101.00001v1.pdf", e.DocumentURL)
	assert.Equal(t, "results/q.xml", e.SourceReference)
	assert.NotEmpty(t, e.Published)
}

func TestParseArxivExtensions(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleFeed), "")
	require.NoError(t, err)

	assert.Equal(t, "quant-ph", entries[0].PrimaryCategory)
	assert.Equal(t, "10.1000/xyz123", entries[0].DOI)
	assert.Equal(t, "12 pages", entries[0].Comment)
}

func TestParseOldStyleIdentifier(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleFeed), "")
	require.NoError(t, err)

	e := entries[1]
	assert.Equal(t, "9901001v2", e.DocumentID)
	assert.Equal(t, "http://arxiv.org/pdf/hep-th/9901001v2.pdf", e.DocumentURL)
}

func TestParseMissingFieldsAreEmpty(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleFeed), "")
	require.NoError(t, err)

	e := entries[2]
	assert.Equal(t, "No Identifier", e.Title)
	assert.Empty(t, e.DocumentID)
	assert.Empty(t, e.DocumentURL)
	assert.NotNil(t, e.Authors)
	assert.NotNil(t, e.Categories)
	assert.Empty(t, e.Authors)
}

func TestParseNoEntries(t *testing.T) {
	entries, err := Parse(strings.NewReader(emptyFeed), "")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o644))

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, path, entries[0].SourceReference)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}

func TestParseCounts(t *testing.T) {
	c, err := ParseCounts(strings.NewReader(sampleFeed))
	require.NoError(t, err)
	assert.Equal(t, 1234, c.Total)
	assert.Equal(t, 3, c.Returned)

	c, err = ParseCounts(strings.NewReader(emptyFeed))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Total)
	assert.Equal(t, 0, c.Returned)
}

func TestDocumentRef(t *testing.T) {
	cases := []struct {
		in, id, url string
	}{
		{"http://arxiv.org/abs/2101.00001v1", "2101.00001v1", "http://arxiv.org/pdf/2101.00001v1.pdf"},
		{"http://arxiv.org/abs/hep-th/9901001v2/", "9901001v2", "http://arxiv.org/pdf/hep-th/9901001v2.pdf"},
		{"https://example.org/items/42", "42", "http://arxiv.org/pdf/42.pdf"},
		{"", "", ""},
	}
	for _, c := range cases {
		id, u := documentRef(c.in)
		assert.Equal(t, c.id, id, c.in)
		assert.Equal(t, c.url, u, c.in)
	}
}
