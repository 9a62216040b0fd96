package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/fsutil"
)

// ErrEmpty is returned when a file holds no content at all.
var ErrEmpty = errors.New("tabular: empty input")

// ErrNoIdentifierColumns is returned when a normalized file has neither an
// id nor a username column.
var ErrNoIdentifierColumns = errors.New("tabular: no id or username column")

// Delimiters lists the candidate column separators, in preference order.
var Delimiters = []rune{',', ';', '\t'}

// Options controls parsing.
type Options struct {
	// Delimiter forces a separator; zero means detect.
	Delimiter rune
	// Encoding forces a text encoding; empty means detect.
	Encoding Encoding
	// NormalizeHeaders maps alias headers to canonical names and handles
	// headerless files by position.
	NormalizeHeaders bool
}

// Format describes how a file was read.
type Format struct {
	Delimiter   rune
	Encoding    Encoding
	Compression Compression
	Headerless  bool
	Positional  bool
}

func (f Format) String() string {
	d := string(f.Delimiter)
	if f.Delimiter == '\t' {
		d = `\t`
	}
	return fmt.Sprintf("delimiter=%q encoding=%s compression=%s headerless=%v", d, f.Encoding, f.Compression, f.Headerless)
}

// ReadFile reads a possibly compressed delimited file.
func ReadFile(path string, opts Options) (*Table, Format, error) {
	file, err := fsutil.OpenScoped(path)
	if err != nil {
		return nil, Format{}, err
	}
	defer file.Close()

	comp := CompressionFromPath(path)
	r, err := NewReader(file, comp)
	if err != nil {
		return nil, Format{}, fmt.Errorf("opening %s stream: %w", comp, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("reading %s: %w", path, err)
	}

	t, f, err := Parse(data, opts)
	f.Compression = comp
	return t, f, err
}

// Parse decodes and parses delimited data.
func Parse(data []byte, opts Options) (*Table, Format, error) {
	f := Format{Encoding: opts.Encoding, Delimiter: opts.Delimiter, Compression: CompressionNone}
	if len(bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))) == 0 {
		return NewTable(), f, ErrEmpty
	}

	if f.Encoding == "" {
		f.Encoding = DetectEncoding(data)
	}
	text, err := Decode(data, f.Encoding)
	if err != nil {
		return nil, f, err
	}
	if f.Delimiter == 0 {
		f.Delimiter = DetectDelimiter(text)
	}

	records, err := readRecords(text, f.Delimiter)
	if err != nil {
		return nil, f, err
	}
	if len(records) == 0 {
		return NewTable(), f, ErrEmpty
	}

	header := records[0]
	body := records[1:]
	var names []string

	if !opts.NormalizeHeaders {
		names = make([]string, len(header))
		for i, h := range header {
			names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
			if names[i] == "" {
				names[i] = positionalName(i)
			}
		}
		return buildTable(names, body), f, nil
	}

	mapping := NormalizeHeader(header)
	names = mapping.Names
	if mapping.Matched == 0 {
		f.Positional = true
		if looksLikeData(header) {
			f.Headerless = true
			body = records
		}
		names = PositionalHeader(len(header))
		if len(header) == 1 {
			names[0] = guessSingleColumn(body)
		}
	}

	t := buildTable(names, body)
	inferUsernameColumn(t)

	if !t.HasColumn(core.ColID) && !t.HasColumn(core.ColUsername) {
		return t, f, ErrNoIdentifierColumns
	}
	return t, f, nil
}

func readRecords(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing delimited data: %w", err)
		}
		if isBlankRecord(rec) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func buildTable(names []string, body [][]string) *Table {
	t := NewTable(names...)
	for _, rec := range body {
		row := make(Row, len(names))
		for i, name := range names {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			} else {
				row[name] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// guessSingleColumn names the only column of a headerless file from its
// first non-empty value.
func guessSingleColumn(body [][]string) string {
	for _, rec := range body {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if _, ok := core.ParseID(rec[0]); ok {
			return core.ColID
		}
		return core.ColUsername
	}
	return core.ColID
}

// inferUsernameColumn renames the first non-canonical column whose first
// value looks like a handle to username, when no username column exists.
func inferUsernameColumn(t *Table) {
	if t.HasColumn(core.ColUsername) || len(t.Rows) == 0 {
		return
	}
	for i, col := range t.Columns {
		if _, canonical := columnAliases[col]; canonical {
			continue
		}
		sample := ""
		for _, r := range t.Rows {
			if v := r[col]; v != "" {
				sample = v
				break
			}
		}
		if !looksLikeHandleColumn(sample) {
			continue
		}
		if !strings.ContainsAny(sample, "@/_") && !hasLetterDigitMix(sample) {
			continue
		}
		for _, r := range t.Rows {
			r[core.ColUsername] = r[col]
			delete(r, col)
		}
		t.Columns[i] = core.ColUsername
		return
	}
}

// hasLetterDigitMix is a weak signal that a bare token is a handle rather
// than a word in a free-text column.
func hasLetterDigitMix(s string) bool {
	letters, digits := false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letters = true
		}
	}
	return letters && digits
}

// DetectDelimiter picks the candidate separator that splits the first lines
// into the most consistent number of fields.
func DetectDelimiter(text string) rune {
	lines := sampleLines(text, 20)
	if len(lines) == 0 {
		return ','
	}

	best, bestScore, bestFirst := ',', -1, 0
	for _, d := range Delimiters {
		counts := make([]int, len(lines))
		for i, l := range lines {
			counts[i] = countOutsideQuotes(l, d)
		}
		if counts[0] == 0 {
			continue
		}
		score := 0
		for _, c := range counts {
			if c == counts[0] {
				score++
			}
		}
		if score > bestScore || (score == bestScore && counts[0] > bestFirst) {
			best, bestScore, bestFirst = d, score, counts[0]
		}
	}
	return best
}

func sampleLines(text string, n int) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

func countOutsideQuotes(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

// WriteOptions controls serialization.
type WriteOptions struct {
	Delimiter rune
	Encoding  Encoding
	// Compression overrides the codec implied by the file extension.
	Compression Compression
	// Perm is the file mode for new files; zero means 0o644.
	Perm os.FileMode
}

// Write serializes t as delimited UTF-8 (or opts.Encoding) to w.
func Write(w io.Writer, t *Table, opts WriteOptions) error {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = delim
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for i := range t.Rows {
		if err := cw.Write(t.Record(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	out, err := Encode(buf.String(), opts.Encoding)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// WriteFile atomically replaces path with t, compressed according to the
// extension unless opts says otherwise.
func WriteFile(path string, t *Table, opts WriteOptions) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	comp := opts.Compression
	if comp == "" {
		comp = CompressionFromPath(path)
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm), renameio.WithExistingPermissions())
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer pf.Cleanup()

	zw, err := NewWriter(pf, comp)
	if err != nil {
		return err
	}
	if err := Write(zw, t, opts); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return pf.CloseAtomicallyReplace()
}
