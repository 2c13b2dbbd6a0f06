package main

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

type cellPhase int

const (
	cellIdle cellPhase = iota
	cellEditing
	cellSaving
)

type CellKey struct {
	RecordID string
	Field    string
}

type cellState struct {
	phase    cellPhase
	pending  string
	lastGood string
}

// CellView is what the display needs to draw one cell.
type CellView struct {
	Value   string
	Editing bool
	Saving  bool
}

type Notice struct {
	Text  string
	Error bool
}

// Grid is the editable view of one table. It is owned by the bubbletea
// Update loop: every method must be called from there, and persistence
// results come back through Update as messages.
type Grid struct {
	schema Schema
	store  RecordStore

	records  []Record
	cells    map[CellKey]*cellState
	draft    map[string]string
	creating bool
	deleting map[string]bool

	loaded  bool
	loadErr error
	notice  Notice
}

func NewGrid(schema Schema, store RecordStore) *Grid {
	return &Grid{
		schema:   schema,
		store:    store,
		cells:    make(map[CellKey]*cellState),
		deleting: make(map[string]bool),
	}
}

func (g *Grid) Schema() Schema { return g.schema }
func (g *Grid) Loaded() bool { return g.loaded }
func (g *Grid) LoadErr() error { return g.loadErr }
func (g *Grid) Notice() Notice { return g.notice }
func (g *Grid) Len() int { return len(g.records) }
func (g *Grid) Creating() bool { return g.creating }
func (g *Grid) ClearNotice() { g.notice = Notice{} }
func (g *Grid) Deleting(id string) bool { return g.deleting[id] }

// Records returns a copy of the collection in display order.
func (g *Grid) Records() []Record {
	out := make([]Record, len(g.records))
	for i, r := range g.records {
		out[i] = r.clone()
	}
	return out
}

func (g *Grid) RecordAt(i int) (Record, bool) {
	if i < 0 || i >= len(g.records) {
		return Record{}, false
	}
	return g.records[i].clone(), true
}

func (g *Grid) Record(id string) (Record, bool) {
	return g.RecordAt(g.indexOf(id))
}

func (g *Grid) indexOf(id string) int {
	for i, r := range g.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Cell reports the displayed value of a cell: the pending value while it is
// being edited or saved, the authoritative value otherwise.
func (g *Grid) Cell(id, field string) CellView {
	if c, ok := g.cells[CellKey{id, field}]; ok {
		return CellView{Value: c.pending, Editing: c.phase == cellEditing, Saving: c.phase == cellSaving}
	}
	if i := g.indexOf(id); i >= 0 {
		return CellView{Value: g.records[i].Fields[field]}
	}
	return CellView{}
}

func (g *Grid) info(format string, args ...any) {
	g.notice = Notice{Text: fmt.Sprintf(format, args...)}
}

func (g *Grid) fail(err error) {
	g.notice = Notice{Text: err.Error(), Error: true}
}

// Load fetches the whole collection. It is the only wholesale refresh.
func (g *Grid) Load() tea.Cmd {
	return loadRecordsCmd(g.store, g.schema.Table)
}

// --- Cell editing ---

func (g *Grid) BeginEdit(id, field string) error {
	i := g.indexOf(id)
	if i < 0 {
		return fmt.Errorf("edit %s/%s: %w", id, field, ErrNotFound)
	}
	if _, ok := g.schema.Column(field); !ok {
		return fmt.Errorf("edit %s: unknown column %q", g.schema.Table, field)
	}
	key := CellKey{id, field}
	if _, ok := g.cells[key]; !ok {
		v := g.records[i].Fields[field]
		g.cells[key] = &cellState{phase: cellEditing, pending: v, lastGood: v}
	}
	return nil
}

func (g *Grid) ChangeValue(id, field, value string) error {
	c, ok := g.cells[CellKey{id, field}]
	if !ok {
		return ErrNotEditing
	}
	if c.phase == cellSaving {
		return ErrCellBusy
	}
	c.pending = value
	return nil
}

// CommitEdit validates the pending value and, when it is not blank, applies
// it optimistically and returns the command that persists it.
func (g *Grid) CommitEdit(id, field string) (tea.Cmd, error) {
	key := CellKey{id, field}
	c, ok := g.cells[key]
	if !ok {
		return nil, ErrNotEditing
	}
	if c.phase == cellSaving {
		return nil, ErrCellBusy
	}
	value := strings.TrimSpace(c.pending)
	if value == "" {
		err := &ValidationError{Fields: []string{field}}
		g.fail(err)
		return nil, err
	}
	i := g.indexOf(id)
	if i < 0 {
		delete(g.cells, key)
		err := fmt.Errorf("commit %s/%s: %w", id, field, ErrNotFound)
		g.fail(err)
		return nil, err
	}

	c.phase = cellSaving
	c.pending = value
	g.records[i].Fields[field] = value
	return updateCellCmd(g.store, g.schema.Table, key, value), nil
}

func (g *Grid) CancelEdit(id, field string) error {
	key := CellKey{id, field}
	c, ok := g.cells[key]
	if !ok {
		return nil
	}
	if c.phase == cellSaving {
		return ErrCellBusy
	}
	if i := g.indexOf(id); i >= 0 {
		g.records[i].Fields[field] = c.lastGood
	}
	delete(g.cells, key)
	return nil
}

// --- Draft row ---

func (g *Grid) BeginAddRow() {
	if g.draft != nil {
		return
	}
	g.draft = make(map[string]string, len(g.schema.Columns))
	for _, key := range g.schema.Keys() {
		g.draft[key] = ""
	}
}

func (g *Grid) Draft() (map[string]string, bool) {
	if g.draft == nil {
		return nil, false
	}
	out := make(map[string]string, len(g.draft))
	for k, v := range g.draft {
		out[k] = v
	}
	return out, true
}

func (g *Grid) ChangeDraftField(field, value string) error {
	if g.draft == nil {
		return ErrNoDraft
	}
	if _, ok := g.schema.Column(field); !ok {
		return fmt.Errorf("draft %s: unknown column %q", g.schema.Table, field)
	}
	g.draft[field] = value
	return nil
}

func (g *Grid) ConfirmAddRow() (tea.Cmd, error) {
	if g.draft == nil {
		return nil, ErrNoDraft
	}
	if g.creating {
		return nil, ErrRowBusy
	}
	if missing := missingFields(g.schema, g.draft); len(missing) > 0 {
		err := &ValidationError{Fields: missing}
		g.fail(err)
		return nil, err
	}
	g.creating = true
	return createRowCmd(g.store, g.schema.Table, trimmedFields(g.schema, g.draft)), nil
}

func (g *Grid) CancelAddRow() error {
	if g.creating {
		return ErrRowBusy
	}
	g.draft = nil
	return nil
}

// --- Deletion ---

// DeleteRow asks the store to delete a row. The row stays visible until the
// store confirms.
func (g *Grid) DeleteRow(id string) (tea.Cmd, error) {
	if g.indexOf(id) < 0 {
		return nil, fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if g.deleting[id] {
		return nil, ErrRowBusy
	}
	g.deleting[id] = true
	return deleteRowCmd(g.store, g.schema.Table, id), nil
}

func (g *Grid) removeRecord(id string) {
	if i := g.indexOf(id); i >= 0 {
		g.records = append(g.records[:i], g.records[i+1:]...)
	}
	for key := range g.cells {
		if key.RecordID == id {
			delete(g.cells, key)
		}
	}
	delete(g.deleting, id)
}

// --- Results ---

// Update applies a persistence result addressed to this grid's table and
// reports whether the message was consumed.
func (g *Grid) Update(msg tea.Msg) bool {
	switch msg := msg.(type) {
	case recordsLoadedMsg:
		if msg.table != g.schema.Table {
			return false
		}
		if msg.err != nil {
			g.loadErr = msg.err
			g.fail(msg.err)
			return true
		}
		g.records = msg.records
		g.cells = make(map[CellKey]*cellState)
		g.deleting = make(map[string]bool)
		g.draft = nil
		g.creating = false
		g.loaded = true
		g.loadErr = nil
		g.info("Loaded %d %s rows", len(msg.records), g.schema.Title)
		return true

	case cellSavedMsg:
		if msg.table != g.schema.Table {
			return false
		}
		c, ok := g.cells[msg.key]
		if !ok || c.phase != cellSaving {
			return true
		}
		switch {
		case msg.err == nil:
			delete(g.cells, msg.key)
			g.info("Saved %s", msg.key.Field)
		case errors.Is(msg.err, ErrNotFound):
			g.removeRecord(msg.key.RecordID)
			g.fail(fmt.Errorf("row %s no longer exists and was removed", msg.key.RecordID))
		default:
			if i := g.indexOf(msg.key.RecordID); i >= 0 {
				g.records[i].Fields[msg.key.Field] = c.lastGood
			}
			c.phase = cellEditing
			g.fail(msg.err)
		}
		return true

	case rowCreatedMsg:
		if msg.table != g.schema.Table {
			return false
		}
		g.creating = false
		if msg.err != nil {
			g.fail(msg.err)
			return true
		}
		g.records = append([]Record{msg.record}, g.records...)
		g.draft = nil
		g.info("Added row %s", msg.record.ID)
		return true

	case rowDeletedMsg:
		if msg.table != g.schema.Table {
			return false
		}
		delete(g.deleting, msg.id)
		switch {
		case msg.err == nil:
			g.removeRecord(msg.id)
			g.info("Deleted row %s", msg.id)
		case errors.Is(msg.err, ErrNotFound):
			g.removeRecord(msg.id)
			g.fail(fmt.Errorf("row %s was already gone and was removed", msg.id))
		default:
			g.fail(msg.err)
		}
		return true
	}
	return false
}
