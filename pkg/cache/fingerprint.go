package cache

import (
	"strconv"
	"strings"

	"nexumdb/pkg/sql"
)

type ProjectionItem struct {
	Column string
	Alias  string
}

type OrderItem struct {
	Column string
	Desc   bool
}

// Fingerprint is the structural identity of a query. Two statements with
// the same Key are answered by the same result.
type Fingerprint struct {
	Kind       string
	Table      string
	Projection []ProjectionItem
	Filter     string // canonical filter text with literals
	Shape      string // canonical filter text with literals replaced by ?
	OrderBy    []OrderItem
	Limit      *int
}

// FingerprintOf builds the fingerprint of a SELECT. Identifiers are folded
// to lower case; aliases keep their case since they name result columns.
func FingerprintOf(stmt *sql.Select) Fingerprint {
	fp := Fingerprint{
		Kind:   "select",
		Table:  strings.ToLower(stmt.Table),
		Filter: sql.FormatExpr(stmt.Where, true),
		Shape:  sql.FormatExpr(stmt.Where, false),
	}
	for _, item := range stmt.Projection {
		col := "*"
		if !item.Wildcard {
			col = strings.ToLower(item.Column)
		}
		fp.Projection = append(fp.Projection, ProjectionItem{Column: col, Alias: item.Alias})
	}
	for _, o := range stmt.OrderBy {
		fp.OrderBy = append(fp.OrderBy, OrderItem{Column: strings.ToLower(o.Column), Desc: o.Desc})
	}
	if stmt.Limit != nil {
		n := *stmt.Limit
		fp.Limit = &n
	}
	return fp
}

// Key is the exact-match cache key: every clause including filter literals.
func (f Fingerprint) Key() string {
	return f.render(f.Filter)
}

// StructuralKey is Key with filter literals masked. Semantic matches are
// only considered between entries that share it.
func (f Fingerprint) StructuralKey() string {
	return f.render(f.Shape)
}

func (f Fingerprint) render(filter string) string {
	var b strings.Builder
	b.WriteString(f.Kind)
	b.WriteString("|t=")
	b.WriteString(f.Table)
	b.WriteString("|p=")
	for i, p := range f.Projection {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Column)
		if p.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(p.Alias)
		}
	}
	b.WriteString("|w=")
	b.WriteString(filter)
	b.WriteString("|o=")
	for i, o := range f.OrderBy {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	b.WriteString("|l=")
	if f.Limit != nil {
		b.WriteString(strconv.Itoa(*f.Limit))
	}
	return b.String()
}
