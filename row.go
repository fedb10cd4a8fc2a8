package pgcore

// Row is one result row: raw column payloads bound to the statement that
// produced them, for column-name lookup and type decoding. Data ownership
// moves to the Row when the cursor returns it.
type Row struct {
	stmt   *Statement
	values [][]byte
}

// Get decodes column i using its declared type. Indexing an out-of-range
// column is a programming error and panics.
func (r *Row) Get(i int) (any, error) {
	if i < 0 || i >= len(r.values) {
		panic(programmingError("column index %d out of range [0,%d)", i, len(r.values)))
	}
	typ := r.stmt.resultTypes[i]
	return typ.Decode(r.values[i], typ.PreferredFormat())
}

// GetByName decodes the column whose name exactly matches name. An
// unknown column name is a programming error and panics.
func (r *Row) GetByName(name string) (any, error) {
	i, ok := r.stmt.ColumnIndex(name)
	if !ok {
		panic(programmingError("unknown column %q", name))
	}
	return r.Get(i)
}

// Len returns the number of columns in the row.
func (r *Row) Len() int { return len(r.values) }
