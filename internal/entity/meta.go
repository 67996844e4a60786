package entity

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Meta is the column mapping for one entity type, derived once per type from
// db struct tags (embedded structs are flattened). It is what lets the
// repository and the audit interceptor work field-by-field on any Record
// without per-type code.
type Meta struct {
	Table   string
	columns []string
	fields  [][]int // reflect index paths, parallel to columns
}

var metaCache sync.Map // reflect.Type -> *Meta

// MetaOf returns the cached column mapping for rec's concrete type.
// rec must be a non-nil pointer to a struct.
func MetaOf(rec Record) *Meta {
	t := reflect.TypeOf(rec)
	if m, ok := metaCache.Load(t); ok {
		return m.(*Meta)
	}
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("entity: %T is not a pointer to struct", rec))
	}
	m := &Meta{Table: rec.TableName()}
	m.collect(t.Elem(), nil)
	metaCache.Store(t, m)
	return m
}

func (m *Meta) collect(st reflect.Type, prefix []int) {
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		idx := append(append([]int(nil), prefix...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			m.collect(f.Type, idx)
			continue
		}
		col := f.Tag.Get("db")
		if col == "" || col == "-" || !f.IsExported() {
			continue
		}
		m.columns = append(m.columns, col)
		m.fields = append(m.fields, idx)
	}
}

// Columns returns every mapped column, base entity columns first.
func (m *Meta) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Bookkeeping columns change on every write and are kept out of audit diffs;
// the guarded UPDATE maintains them, the audit entry records the rest.
var bookkeepingColumns = map[string]bool{
	"row_version":    true,
	"modified_at":    true,
	"modified_by":    true,
	"modified_by_ip": true,
}

// AuditColumns returns the columns recorded on audit snapshots: everything
// except the bookkeeping set.
func (m *Meta) AuditColumns() []string {
	cols := make([]string, 0, len(m.columns))
	for _, c := range m.columns {
		if !bookkeepingColumns[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// MutableColumns returns the columns a guarded UPDATE may touch: everything
// except the key and the immutable creation stamp.
func (m *Meta) MutableColumns() []string {
	cols := make([]string, 0, len(m.columns))
	for _, c := range m.columns {
		if c == "id" || c == "created_at" || c == "created_by" {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

func (m *Meta) fieldValue(rec any, col string) reflect.Value {
	v := reflect.ValueOf(rec).Elem()
	for i, c := range m.columns {
		if c == col {
			return v.FieldByIndex(m.fields[i])
		}
	}
	panic(fmt.Sprintf("entity: table %s has no column %s", m.Table, col))
}

// Args returns rec's values for the given columns, in order, suitable as SQL
// arguments (nil pointers become NULL).
func (m *Meta) Args(rec any, cols []string) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = m.fieldValue(rec, c).Interface()
	}
	return args
}

// Pointers returns scan destinations for every column, in Columns order.
func (m *Meta) Pointers(rec any) []any {
	v := reflect.ValueOf(rec).Elem()
	ptrs := make([]any, len(m.fields))
	for i, idx := range m.fields {
		ptrs[i] = v.FieldByIndex(idx).Addr().Interface()
	}
	return ptrs
}

// Snapshot captures rec's current field values by column, with pointers
// dereferenced, IDs stringified, and times normalized, so two snapshots taken
// at different times (or loaded back from storage) compare cleanly.
func (m *Meta) Snapshot(rec any) map[string]any {
	v := reflect.ValueOf(rec).Elem()
	snap := make(map[string]any, len(m.columns))
	for i, col := range m.columns {
		snap[col] = normalize(v.FieldByIndex(m.fields[i]))
	}
	return snap
}

func normalize(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch val := v.Interface().(type) {
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.UTC().Round(0)
	default:
		return val
	}
}

// Diff returns the columns whose values differ between two snapshots,
// excluding the bookkeeping set. Order follows the Meta's column order.
func (m *Meta) Diff(old, new map[string]any) []string {
	var changed []string
	for _, col := range m.columns {
		if bookkeepingColumns[col] {
			continue
		}
		if !valuesEqual(old[col], new[col]) {
			changed = append(changed, col)
		}
	}
	return changed
}

// Project restricts a snapshot to the given columns.
func Project(snap map[string]any, cols []string) map[string]any {
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		out[c] = snap[c]
	}
	return out
}

func valuesEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}
