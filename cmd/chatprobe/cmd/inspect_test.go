package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

const sampleTable = "id,username,title\n1001,,First\n,@alpha_chat,Alpha\n1001,,First again\n,bad name!,Broken\n"

func TestInspectAnalyze(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "groups.csv"), sampleTable)
	buf := capture(inspectAnalyzeCmd)

	inspectJSON = false
	require.NoError(t, runInspectAnalyze(inspectAnalyzeCmd, []string{path}))

	out := buf.String()
	assert.Contains(t, out, "Rows:          4")
	assert.Contains(t, out, "Identified:    3")
	assert.Contains(t, out, "Duplicate ids: 1")
	assert.Contains(t, out, "username")
}

func TestInspectAnalyze_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "groups.csv"), sampleTable)
	buf := capture(inspectAnalyzeCmd)

	inspectJSON = true
	defer func() { inspectJSON = false }()
	require.NoError(t, runInspectAnalyze(inspectAnalyzeCmd, []string{path}))

	assert.Contains(t, buf.String(), `"rows": 4`)
	assert.Contains(t, buf.String(), `"duplicate_ids": 1`)
}

func TestInspectClean(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "groups.csv"), sampleTable)
	dest := filepath.Join(dir, "clean.csv")
	buf := capture(inspectCleanCmd)

	inspectOutput = dest
	defer func() { inspectOutput = "" }()
	require.NoError(t, runInspectClean(inspectCleanCmd, []string{path}))

	assert.Contains(t, buf.String(), "Removed 1 row(s) without identifier and 1 duplicate(s)")

	tbl, _, err := tabular.ReadFile(dest, tabular.Options{})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "Alpha", tbl.Rows[0]["title"])
	assert.Equal(t, "First again", tbl.Rows[1]["title"])
}

func TestInspectConvert(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "groups.csv"), sampleTable)
	dest := filepath.Join(dir, "groups.csv.gz")
	capture(inspectConvertCmd)

	inspectOutput = dest
	inspectDelimiter = "semicolon"
	inspectEncoding = "windows-1251"
	inspectCompression = ""
	defer func() {
		inspectOutput, inspectDelimiter, inspectEncoding = "", ",", "utf-8"
	}()
	require.NoError(t, runInspectConvert(inspectConvertCmd, []string{path}))

	tbl, format, err := tabular.ReadFile(dest, tabular.Options{})
	require.NoError(t, err)
	assert.Equal(t, ';', format.Delimiter)
	assert.Equal(t, tabular.CompressionGzip, format.Compression)
	assert.Equal(t, 4, tbl.Len())
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{",", ',', false},
		{"semicolon", ';', false},
		{"TAB", '\t', false},
		{`\t`, '\t', false},
		{"|", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDelimiter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
