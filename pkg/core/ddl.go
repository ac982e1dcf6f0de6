package core

import (
	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/sql"

	"go.uber.org/zap"
)

func (e *Executor) execCreate(s *sql.CreateTable) (*common.Result, error) {
	_, exists, err := e.catalog.SchemaOf(s.Name)
	if err != nil {
		return nil, err
	}
	if exists && s.IfNotExists {
		return &common.Result{Kind: common.ResultCreated, Table: s.Name}, nil
	}

	schema := &common.Schema{Name: s.Name, Columns: make([]common.Column, len(s.Columns))}
	for i, c := range s.Columns {
		schema.Columns[i] = common.Column{Name: c.Name, Type: c.Type}
	}
	if err := e.catalog.Register(schema); err != nil {
		return nil, err
	}
	// results cached for an earlier table of the same name
	e.invalidate(s.Name)
	e.setRowCount(s.Name, 0)
	e.logger.Info("table created", zap.String("table", s.Name), zap.Int("columns", len(s.Columns)))

	return &common.Result{Kind: common.ResultCreated, Table: s.Name}, nil
}

// execDrop removes the table's rows, then its catalog entry. If row
// deletion fails the table stays registered with its remaining rows.
func (e *Executor) execDrop(s *sql.DropTable) (*common.Result, error) {
	schema, exists, err := e.catalog.SchemaOf(s.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		if s.IfExists {
			return &common.Result{Kind: common.ResultDropped, Table: s.Table}, nil
		}
		return nil, errors.Schemaf(s.Table, "", "table %s does not exist", s.Table)
	}

	recs, err := e.store.Scan(tablePrefix(schema.Name))
	if err != nil {
		return nil, errors.Storage(schema.Name, 0, 0, err, "scan %s", schema.Name)
	}
	e.stats.RecordScan()
	keys := make([][]byte, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Key
	}
	e.setRowCount(schema.Name, len(keys))
	if _, err := e.deleteKeys(schema.Name, keys); err != nil {
		return nil, err
	}

	if err := e.catalog.Remove(schema.Name); err != nil {
		return nil, err
	}
	e.invalidate(schema.Name)
	delete(e.rowCounts, tableKey(schema.Name))
	e.logger.Info("table dropped", zap.String("table", schema.Name), zap.Int("rows", len(keys)))

	return &common.Result{Kind: common.ResultDropped, Table: schema.Name, Affected: len(keys)}, nil
}

func (e *Executor) execDescribe(s *sql.Describe) (*common.Result, error) {
	schema, err := e.schemaOf(s.Table)
	if err != nil {
		return nil, err
	}
	rows := make([]common.Row, len(schema.Columns))
	for i, c := range schema.Columns {
		rows[i] = common.Row{common.TextValue(c.Name), common.TextValue(c.Type.String())}
	}
	return &common.Result{
		Kind:     common.ResultDescription,
		Table:    schema.Name,
		Columns:  []string{"column", "type"},
		Rows:     rows,
		Schema:   schema,
		Affected: len(rows),
	}, nil
}

func (e *Executor) execShow() (*common.Result, error) {
	names, err := e.catalog.List()
	if err != nil {
		return nil, err
	}
	rows := make([]common.Row, len(names))
	for i, n := range names {
		rows[i] = common.Row{common.TextValue(n)}
	}
	return &common.Result{
		Kind:     common.ResultTableList,
		Columns:  []string{"table"},
		Rows:     rows,
		Tables:   names,
		Affected: len(names),
	}, nil
}
