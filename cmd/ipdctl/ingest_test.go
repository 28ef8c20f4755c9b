package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadIngestRequestJSON(t *testing.T) {
	path := writeTemp(t, "rev.json", `{
		"revision": "B",
		"expected_previous_revision_id": "rev-a",
		"parts": [{"part_number": "P1", "effectivity": {"type": "RANGE", "from": 1, "to": 9}}]
	}`)
	req, err := readIngestRequest(path)
	require.NoError(t, err)
	assert.Equal(t, "B", req.Revision)
	assert.Equal(t, "rev-a", req.ExpectedPreviousRevisionID)
	require.Len(t, req.Parts, 1)
	assert.Equal(t, 9, *req.Parts[0].Effectivity.To)
}

func TestReadIngestRequestPartsArray(t *testing.T) {
	path := writeTemp(t, "parts.json", `[{"part_number": "P1"}, {"part_number": "P2"}]`)
	req, err := readIngestRequest(path)
	require.NoError(t, err)
	assert.Len(t, req.Parts, 2)
	assert.Empty(t, req.Revision)
}

func TestReadIngestRequestCSV(t *testing.T) {
	path := writeTemp(t, "parts.csv", "part_number,nomenclature,effectivity\nP1,BRACKET,1-20\n")
	req, err := readIngestRequest(path)
	require.NoError(t, err)
	require.Len(t, req.Parts, 1)
	assert.Equal(t, "BRACKET", req.Parts[0].Nomenclature)
}

func TestReadIngestRequestUnsupported(t *testing.T) {
	_, err := readIngestRequest(writeTemp(t, "parts.txt", "x"))
	assert.Error(t, err)
}
