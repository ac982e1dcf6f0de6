package core

import (
	"strings"

	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/sql"
)

// execInsert validates and encodes every row before touching the store,
// then writes them in one batch.
func (e *Executor) execInsert(s *sql.Insert) (*common.Result, error) {
	schema, err := e.schemaOf(s.Table)
	if err != nil {
		return nil, err
	}

	positions, err := insertPositions(schema, s.Columns)
	if err != nil {
		return nil, err
	}

	records := make([]common.Record, 0, len(s.Values))
	for i, vals := range s.Values {
		if len(vals) != len(positions) {
			return nil, errors.Typef(schema.Name, "", "",
				"row %d has %d values, expected %d", i+1, len(vals), len(positions))
		}
		row := make(common.Row, len(schema.Columns))
		for j := range row {
			row[j] = common.NullValue()
		}
		for j, v := range vals {
			col := schema.Columns[positions[j]]
			cv, err := Coerce(v, col.Type)
			if err != nil {
				return nil, errors.Typef(schema.Name, col.Name, v.String(),
					"row %d: %v for column %s.%s", i+1, err, schema.Name, col.Name)
			}
			row[positions[j]] = cv
		}

		raw, err := encodeRow(row)
		if err != nil {
			return nil, errors.Typef(schema.Name, "", "", "row %d cannot be encoded: %v", i+1, err)
		}
		key, err := newRowKey(schema.Name)
		if err != nil {
			return nil, errors.Storage(schema.Name, 0, len(s.Values), err, "allocate row key")
		}
		records = append(records, common.Record{Key: key, Value: raw})
	}

	e.stats.RecordWrite()
	e.invalidate(schema.Name)
	if err := e.store.PutBatch(records); err != nil {
		e.invalidate(schema.Name)
		return nil, errors.Storage(schema.Name, 0, len(records), err, "insert into %s", schema.Name)
	}
	e.invalidate(schema.Name)
	e.addRowCount(schema.Name, len(records))

	return &common.Result{Kind: common.ResultInserted, Table: schema.Name, Affected: len(records)}, nil
}

func insertPositions(schema *common.Schema, columns []string) ([]int, error) {
	if len(columns) == 0 {
		positions := make([]int, len(schema.Columns))
		for i := range positions {
			positions[i] = i
		}
		return positions, nil
	}

	positions := make([]int, len(columns))
	seen := make(map[string]bool, len(columns))
	for i, name := range columns {
		idx, ok := schema.ColumnIndex(name)
		if !ok {
			return nil, errors.Schemaf(schema.Name, name, "column %s not found in table %s", name, schema.Name)
		}
		lower := strings.ToLower(name)
		if seen[lower] {
			return nil, errors.Schemaf(schema.Name, name, "column %s listed twice", name)
		}
		seen[lower] = true
		positions[i] = idx
	}
	return positions, nil
}

// execUpdate runs in two phases. Phase one scans, filters and builds every
// new row without writing; any error there leaves the table untouched.
// Phase two writes all staged rows in one batch.
func (e *Executor) execUpdate(s *sql.Update) (*common.Result, error) {
	schema, err := e.schemaOf(s.Table)
	if err != nil {
		return nil, err
	}

	type assignment struct {
		idx int
		val common.Value
	}
	assigns := make([]assignment, 0, len(s.Set))
	seen := make(map[int]bool, len(s.Set))
	for _, a := range s.Set {
		idx, ok := schema.ColumnIndex(a.Column)
		if !ok {
			return nil, errors.Schemaf(schema.Name, a.Column, "column %s not found in table %s", a.Column, schema.Name)
		}
		if seen[idx] {
			return nil, errors.Schemaf(schema.Name, a.Column, "column %s assigned twice", a.Column)
		}
		seen[idx] = true
		col := schema.Columns[idx]
		cv, err := Coerce(a.Value, col.Type)
		if err != nil {
			return nil, errors.Typef(schema.Name, col.Name, a.Value.String(),
				"%v for column %s.%s", err, schema.Name, col.Name)
		}
		assigns = append(assigns, assignment{idx: idx, val: cv})
	}
	if err := checkColumns(schema, s.Where); err != nil {
		return nil, err
	}

	recs, rows, err := e.scanTable(schema)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{schema: schema}
	var staged []common.Record
	for i, row := range rows {
		ok, err := ev.matches(s.Where, row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		updated := row.Clone()
		for _, a := range assigns {
			updated[a.idx] = a.val
		}
		raw, err := encodeRow(updated)
		if err != nil {
			return nil, errors.Typef(schema.Name, "", "", "updated row %x cannot be encoded: %v", recs[i].Key, err)
		}
		staged = append(staged, common.Record{Key: recs[i].Key, Value: raw})
	}

	e.stats.RecordWrite()
	if len(staged) == 0 {
		return &common.Result{Kind: common.ResultUpdated, Table: schema.Name}, nil
	}

	e.invalidate(schema.Name)
	if err := e.store.PutBatch(staged); err != nil {
		e.invalidate(schema.Name)
		return nil, errors.Storage(schema.Name, 0, len(staged), err, "update %s", schema.Name)
	}
	e.invalidate(schema.Name)

	return &common.Result{Kind: common.ResultUpdated, Table: schema.Name, Affected: len(staged)}, nil
}

// execDelete collects the keys of matching rows first, then deletes them
// one by one. A failure part way reports how many rows were removed.
func (e *Executor) execDelete(s *sql.Delete) (*common.Result, error) {
	schema, err := e.schemaOf(s.Table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(schema, s.Where); err != nil {
		return nil, err
	}

	recs, rows, err := e.scanTable(schema)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{schema: schema}
	var keys [][]byte
	for i, row := range rows {
		ok, err := ev.matches(s.Where, row)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, recs[i].Key)
		}
	}

	e.stats.RecordWrite()
	if len(keys) == 0 {
		return &common.Result{Kind: common.ResultDeleted, Table: schema.Name}, nil
	}

	deleted, err := e.deleteKeys(schema.Name, keys)
	if err != nil {
		return nil, err
	}
	return &common.Result{Kind: common.ResultDeleted, Table: schema.Name, Affected: deleted}, nil
}

// deleteKeys removes keys in order, invalidating the table's cache entries
// before the first delete and after the last, including on failure.
func (e *Executor) deleteKeys(table string, keys [][]byte) (int, error) {
	e.invalidate(table)
	defer e.invalidate(table)

	for i, key := range keys {
		if err := e.store.Delete(key); err != nil {
			e.addRowCount(table, -i)
			return i, errors.Storage(table, i, len(keys), err, "delete from %s", table)
		}
	}
	e.addRowCount(table, -len(keys))
	return len(keys), nil
}

func checkColumns(schema *common.Schema, where sql.Expr) error {
	for _, col := range sql.ColumnsOf(where) {
		if _, ok := schema.ColumnIndex(col); !ok {
			return errors.Schemaf(schema.Name, col, "column %s not found in table %s", col, schema.Name)
		}
	}
	return nil
}
