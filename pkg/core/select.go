package core

import (
	"container/heap"
	"sort"
	"time"

	"nexumdb/pkg/cache"
	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/optimizer"
	"nexumdb/pkg/sql"

	"go.uber.org/zap"
)

type orderKey struct {
	idx  int
	desc bool
}

// selectPlan is a SELECT resolved against its table. Building it checks
// every column reference, so execution never starts on an invalid query.
type selectPlan struct {
	schema  *common.Schema
	ev      *evaluator
	where   sql.Expr
	proj    []int
	columns []string
	order   []orderKey
	limit   int // -1 for none
}

func newSelectPlan(schema *common.Schema, s *sql.Select) (*selectPlan, error) {
	p := &selectPlan{
		schema: schema,
		ev:     &evaluator{schema: schema},
		where:  s.Where,
		limit:  -1,
	}
	if s.Limit != nil {
		p.limit = *s.Limit
	}

	for _, item := range s.Projection {
		if item.Wildcard {
			for i, c := range schema.Columns {
				p.proj = append(p.proj, i)
				p.columns = append(p.columns, c.Name)
			}
			continue
		}
		idx, ok := schema.ColumnIndex(item.Column)
		if !ok {
			return nil, errors.Schemaf(schema.Name, item.Column,
				"column %s not found in table %s", item.Column, schema.Name)
		}
		p.proj = append(p.proj, idx)
		if item.Alias != "" {
			p.columns = append(p.columns, item.Alias)
		} else {
			p.columns = append(p.columns, schema.Columns[idx].Name)
		}
	}

	for _, col := range sql.ColumnsOf(s.Where) {
		if _, ok := schema.ColumnIndex(col); !ok {
			return nil, errors.Schemaf(schema.Name, col,
				"column %s not found in table %s", col, schema.Name)
		}
	}

	for _, o := range s.OrderBy {
		idx, ok := schema.ColumnIndex(o.Column)
		if !ok {
			return nil, errors.Schemaf(schema.Name, o.Column,
				"column %s not found in table %s", o.Column, schema.Name)
		}
		p.order = append(p.order, orderKey{idx: idx, desc: o.Desc})
	}
	return p, nil
}

func (p *selectPlan) compare(a, b common.Row) int {
	for _, k := range p.order {
		c := common.Order(a[k.idx], b[k.idx])
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func (p *selectPlan) sort(rows []common.Row) {
	if len(p.order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return p.compare(rows[i], rows[j]) < 0
	})
}

func (p *selectPlan) project(rows []common.Row) []common.Row {
	out := make([]common.Row, len(rows))
	for i, row := range rows {
		r := make(common.Row, len(p.proj))
		for j, idx := range p.proj {
			r[j] = row[idx]
		}
		out[i] = r
	}
	return out
}

func (e *Executor) execSelect(s *sql.Select) (*common.Result, error) {
	e.stats.RecordRead()

	schema, err := e.schemaOf(s.Table)
	if err != nil {
		return nil, err
	}
	plan, err := newSelectPlan(schema, s)
	if err != nil {
		return nil, err
	}

	fp := cache.FingerprintOf(s)
	if e.cache != nil {
		if res, ok := e.cache.Lookup(fp, s.SQL()); ok {
			if res.SemanticHit {
				e.stats.RecordSemanticHit()
			} else {
				e.stats.RecordHit()
			}
			res.Strategy = "cache"
			return res, nil
		}
		e.stats.RecordMiss()
	}

	strategy := optimizer.StrategyScanFilter
	shape := optimizer.ShapeOf(s, e.rowCount(schema.Name))
	if e.policy != nil {
		strategy = e.policy.ChooseStrategy(shape)
	}

	start := time.Now()
	var rows []common.Row
	switch strategy {
	case optimizer.StrategyStreaming:
		rows, err = e.selectStreaming(plan)
	default:
		rows, err = e.selectScanFilter(plan)
	}
	if err != nil {
		return nil, err
	}

	res := &common.Result{
		Kind:     common.ResultSelected,
		Table:    schema.Name,
		Columns:  plan.columns,
		Rows:     rows,
		Affected: len(rows),
		Strategy: strategy.String(),
	}
	if e.cache != nil && strategy != optimizer.StrategyCacheBypass {
		if err := e.cache.Insert(fp, s.SQL(), res); err != nil {
			e.logger.Warn("cache entry not persisted", zap.String("query", s.SQL()), zap.Error(err))
		}
	}

	// the observed cost includes caching the result, which is what
	// cache_bypass saves
	res.Elapsed = time.Since(start)
	if e.policy != nil {
		if err := e.policy.Observe(shape, strategy, res.Elapsed); err != nil {
			e.logger.Warn("policy not persisted", zap.Error(err))
		}
	}
	return res, nil
}

// selectScanFilter materializes the table, then filters, sorts, limits
// and projects.
func (e *Executor) selectScanFilter(p *selectPlan) ([]common.Row, error) {
	_, all, err := e.scanTable(p.schema)
	if err != nil {
		return nil, err
	}
	rows := all[:0]
	for _, row := range all {
		ok, err := p.ev.matches(p.where, row)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	p.sort(rows)
	if p.limit >= 0 && len(rows) > p.limit {
		rows = rows[:p.limit]
	}
	return p.project(rows), nil
}

// selectStreaming filters rows as the store yields them. Without ORDER BY
// it stops once LIMIT rows matched; with ORDER BY and LIMIT it keeps only
// the best LIMIT rows in a bounded heap.
func (e *Executor) selectStreaming(p *selectPlan) ([]common.Row, error) {
	if p.limit == 0 {
		return []common.Row{}, nil
	}

	var (
		rows    []common.Row
		top     *topK
		seen    int
		evalErr error
	)
	if len(p.order) > 0 && p.limit > 0 {
		top = &topK{plan: p, k: p.limit}
	}
	complete := true

	err := e.store.Iterate(tablePrefix(p.schema.Name), func(key, val []byte) bool {
		seen++
		row, err := e.decode(p.schema, common.Record{Key: key, Value: val})
		if err != nil {
			evalErr = err
			return false
		}
		ok, err := p.ev.matches(p.where, row)
		if err != nil {
			evalErr = err
			return false
		}
		if !ok {
			return true
		}
		if top != nil {
			top.offer(row, seen)
			return true
		}
		rows = append(rows, row)
		if len(p.order) == 0 && p.limit > 0 && len(rows) == p.limit {
			complete = false
			return false
		}
		return true
	})
	if err != nil {
		return nil, errors.Storage(p.schema.Name, 0, 0, err, "scan %s", p.schema.Name)
	}
	e.stats.RecordScan()
	if evalErr != nil {
		return nil, evalErr
	}
	if complete {
		e.setRowCount(p.schema.Name, seen)
	}

	if top != nil {
		rows = top.sorted()
	} else {
		p.sort(rows)
		if p.limit >= 0 && len(rows) > p.limit {
			rows = rows[:p.limit]
		}
	}
	return p.project(rows), nil
}

type rankedRow struct {
	row common.Row
	seq int
}

// topK keeps the k smallest rows under the plan's ordering. Ties keep the
// earlier row, matching a stable sort.
type topK struct {
	plan  *selectPlan
	k     int
	items []rankedRow
}

func (t *topK) Len() int { return len(t.items) }

// Less puts the worst row at the root.
func (t *topK) Less(i, j int) bool { return t.worse(t.items[i], t.items[j]) }

func (t *topK) Swap(i, j int) { t.items[i], t.items[j] = t.items[j], t.items[i] }

func (t *topK) Push(x interface{}) { t.items = append(t.items, x.(rankedRow)) }

func (t *topK) Pop() interface{} {
	n := len(t.items)
	it := t.items[n-1]
	t.items = t.items[:n-1]
	return it
}

func (t *topK) worse(a, b rankedRow) bool {
	if c := t.plan.compare(a.row, b.row); c != 0 {
		return c > 0
	}
	return a.seq > b.seq
}

func (t *topK) offer(row common.Row, seq int) {
	it := rankedRow{row: row, seq: seq}
	if len(t.items) < t.k {
		heap.Push(t, it)
		return
	}
	if t.worse(t.items[0], it) {
		t.items[0] = it
		heap.Fix(t, 0)
	}
}

func (t *topK) sorted() []common.Row {
	items := append([]rankedRow(nil), t.items...)
	sort.Slice(items, func(i, j int) bool { return t.worse(items[j], items[i]) })
	rows := make([]common.Row, len(items))
	for i, it := range items {
		rows[i] = it.row
	}
	return rows
}
