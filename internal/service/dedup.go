package service

import (
	"strconv"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// DedupIndex is the set of identifiers already handled: numeric ids and
// normalized handles. It only grows.
type DedupIndex struct {
	ids     map[string]struct{}
	handles map[string]struct{}
}

// NewDedupIndex creates an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{
		ids:     make(map[string]struct{}),
		handles: make(map[string]struct{}),
	}
}

// SeedDedupIndex indexes every row of t. When retryErrors is set, rows whose
// access_status is error are left out so they are fetched again.
func SeedDedupIndex(t *tabular.Table, retryErrors bool) *DedupIndex {
	idx := NewDedupIndex()
	if t == nil {
		return idx
	}
	for _, r := range t.Rows {
		if retryErrors && r[core.ColAccessStatus] == string(core.AccessError) {
			continue
		}
		idx.AddRow(r)
	}
	return idx
}

// Len is the number of indexed keys.
func (d *DedupIndex) Len() int {
	return len(d.ids) + len(d.handles)
}

// AddID indexes a numeric id.
func (d *DedupIndex) AddID(id int64) {
	if id > 0 {
		d.ids[strconv.FormatInt(id, 10)] = struct{}{}
	}
}

// AddHandle indexes a handle in any accepted spelling.
func (d *DedupIndex) AddHandle(h string) {
	if h = core.NormalizeHandle(h); core.ValidHandle(h) {
		d.handles[h] = struct{}{}
	}
}

// Add indexes an identifier.
func (d *DedupIndex) Add(id core.ChatIdentifier) {
	d.AddID(id.ID)
	d.AddHandle(id.Handle)
}

// AddRow indexes every identifying value of a row.
func (d *DedupIndex) AddRow(r map[string]string) {
	if id, ok := core.ParseID(r[core.ColID]); ok {
		d.AddID(id)
	}
	d.AddHandle(r[core.ColUsername])
	d.AddHandle(r[core.ColActualUsername])
}

// AddRecord indexes both the requested and the resolved identity.
func (d *DedupIndex) AddRecord(rec *core.FetchRecord) {
	d.Add(rec.Identifier)
	d.AddID(rec.ResolvedID)
	d.AddHandle(rec.Handle)
	if rec.Input != nil {
		d.AddRow(rec.Input)
	}
}

// Contains reports whether id was indexed.
func (d *DedupIndex) Contains(id core.ChatIdentifier) bool {
	if id.Handle != "" {
		if _, ok := d.handles[core.NormalizeHandle(id.Handle)]; ok {
			return true
		}
	}
	if id.ID > 0 {
		if _, ok := d.ids[strconv.FormatInt(id.ID, 10)]; ok {
			return true
		}
	}
	return false
}

// ContainsRow reports whether any identifying value of r was indexed.
func (d *DedupIndex) ContainsRow(r map[string]string) bool {
	if id, ok := core.ParseID(r[core.ColID]); ok {
		if d.Contains(core.ChatIdentifier{ID: id}) {
			return true
		}
	}
	for _, col := range []string{core.ColUsername, core.ColActualUsername} {
		if h := core.NormalizeHandle(r[col]); core.ValidHandle(h) {
			if d.Contains(core.ChatIdentifier{Handle: h}) {
				return true
			}
		}
	}
	return false
}
