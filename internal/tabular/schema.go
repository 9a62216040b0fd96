package tabular

import (
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// columnAliases maps each canonical input column to the header spellings
// seen in exported chat lists.
var columnAliases = map[string][]string{
	core.ColID:       {"id", "ид", "chat_id", "group_id"},
	core.ColUsername: {"username", "user", "user_name", "nick", "nickname"},
	core.ColTitle:    {"title", "name", "group_name", "chat_name", "название"},
	core.ColDate:     {"date", "created", "created_at", "timestamp", "дата"},
}

// PositionalColumns is the order assumed for headerless files.
var PositionalColumns = []string{core.ColID, core.ColUsername, core.ColTitle, core.ColDate}

var aliasIndex, aliasList = buildAliasIndex()

func buildAliasIndex() (map[string]string, []string) {
	idx := make(map[string]string)
	var list []string
	for canonical, aliases := range columnAliases {
		for _, a := range aliases {
			idx[a] = canonical
			idx[strings.ReplaceAll(a, "_", "")] = canonical
			list = append(list, a)
		}
	}
	return idx, list
}

// cleanHeader lowercases and trims a header cell and folds separators.
func cleanHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Trim(h, `"'`)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// CanonicalColumn maps a header cell to a canonical column name. Exact alias
// matches come first; near misses ("grp_name", "chatid") are resolved with a
// fuzzy match when exactly one canonical column wins.
func CanonicalColumn(header string) (string, bool) {
	h := cleanHeader(header)
	if h == "" {
		return "", false
	}
	if c, ok := aliasIndex[h]; ok {
		return c, true
	}
	if c, ok := aliasIndex[strings.ReplaceAll(h, "_", "")]; ok {
		return c, true
	}
	if len([]rune(h)) < 4 {
		return "", false
	}

	matches := fuzzy.Find(h, aliasList)
	var found string
	for _, m := range matches {
		if len([]rune(m.Str))-len([]rune(h)) > 3 {
			continue
		}
		c := aliasIndex[m.Str]
		if found != "" && found != c {
			return "", false
		}
		found = c
	}
	return found, found != ""
}

// HeaderMapping is the result of normalizing a header row.
type HeaderMapping struct {
	// Names holds the output column name for each input position.
	Names []string
	// Matched counts positions mapped to a canonical column.
	Matched int
}

// NormalizeHeader maps header cells to canonical names. Cells that do not
// match keep their cleaned original name. When two cells map to the same
// canonical column the first one wins.
func NormalizeHeader(header []string) HeaderMapping {
	used := make(map[string]bool)
	m := HeaderMapping{Names: make([]string, len(header))}
	for i, cell := range header {
		name := strings.TrimSpace(strings.TrimPrefix(cell, "\uFEFF"))
		if c, ok := CanonicalColumn(cell); ok && !used[c] {
			name = c
			used[c] = true
			m.Matched++
		}
		if name == "" {
			name = positionalName(i)
		}
		m.Names[i] = name
	}
	return m
}

// PositionalHeader names n columns by position: id, username, title, date,
// then column_5, column_6, ...
func PositionalHeader(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = positionalName(i)
	}
	return out
}

func positionalName(i int) string {
	if i < len(PositionalColumns) {
		return PositionalColumns[i]
	}
	return "column_" + strconv.Itoa(i+1)
}

// looksLikeData reports whether a first row is more plausibly a record than
// a header: its first cell is an id, or its second cell is a handle.
func looksLikeData(row []string) bool {
	if len(row) == 0 {
		return false
	}
	if _, ok := core.ParseID(row[0]); ok {
		return true
	}
	if len(row) > 1 {
		cell := strings.TrimSpace(row[1])
		if strings.HasPrefix(cell, "@") || strings.Contains(strings.ToLower(cell), "t.me/") {
			return true
		}
	}
	return strings.HasPrefix(strings.TrimSpace(row[0]), "@")
}

// looksLikeHandleColumn reports whether a sample value could be a username.
func looksLikeHandleColumn(sample string) bool {
	s := strings.TrimSpace(sample)
	if s == "" {
		return false
	}
	if _, ok := core.ParseID(s); ok {
		return false
	}
	if strings.HasPrefix(s, "@") || strings.Contains(strings.ToLower(s), "t.me/") {
		return true
	}
	return core.ValidHandle(core.NormalizeHandle(s))
}
