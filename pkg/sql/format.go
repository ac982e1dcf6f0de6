package sql

import (
	"strconv"
	"strings"

	"nexumdb/pkg/common"
)

// FormatExpr renders expr as fully parenthesized canonical text: keywords
// upper case, column names lower case. With literals false every literal
// is rendered as "?", which gives the structural shape of a filter.
func FormatExpr(expr Expr, literals bool) string {
	if expr == nil {
		return ""
	}
	var b strings.Builder
	formatExpr(&b, expr, literals)
	return b.String()
}

func formatExpr(b *strings.Builder, expr Expr, literals bool) {
	switch e := expr.(type) {
	case *BinaryExpr:
		b.WriteByte('(')
		formatExpr(b, e.Left, literals)
		b.WriteByte(' ')
		b.WriteString(e.Op)
		b.WriteByte(' ')
		formatExpr(b, e.Right, literals)
		b.WriteByte(')')
	case *NotExpr:
		b.WriteString("(NOT ")
		formatExpr(b, e.Expr, literals)
		b.WriteByte(')')
	case *ColumnRef:
		b.WriteString(strings.ToLower(e.Name))
	case *Literal:
		if literals {
			b.WriteString(FormatValue(e.Value))
		} else {
			b.WriteByte('?')
		}
	case *LikeExpr:
		b.WriteByte('(')
		formatExpr(b, e.Expr, literals)
		b.WriteString(not(e.Not))
		b.WriteString(" LIKE ")
		if literals {
			b.WriteString(quote(e.Pattern))
		} else {
			b.WriteByte('?')
		}
		b.WriteByte(')')
	case *InExpr:
		b.WriteByte('(')
		formatExpr(b, e.Expr, literals)
		b.WriteString(not(e.Not))
		b.WriteString(" IN (")
		for i, item := range e.List {
			if i > 0 {
				b.WriteString(", ")
			}
			formatExpr(b, item, literals)
		}
		b.WriteString("))")
	case *BetweenExpr:
		b.WriteByte('(')
		formatExpr(b, e.Expr, literals)
		b.WriteString(not(e.Not))
		b.WriteString(" BETWEEN ")
		formatExpr(b, e.Low, literals)
		b.WriteString(" AND ")
		formatExpr(b, e.High, literals)
		b.WriteByte(')')
	case *IsNullExpr:
		b.WriteByte('(')
		formatExpr(b, e.Expr, literals)
		if e.Not {
			b.WriteString(" IS NOT NULL)")
		} else {
			b.WriteString(" IS NULL)")
		}
	}
}

func not(n bool) string {
	if n {
		return " NOT"
	}
	return ""
}

// FormatValue renders a literal as SQL text. Floats always carry a decimal
// point or exponent so 1 and 1.0 stay distinct.
func FormatValue(v common.Value) string {
	switch v.Kind {
	case common.TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case common.TypeFloat:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s
	case common.TypeText:
		return quote(v.Text)
	case common.TypeBoolean:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	}
	return "NULL"
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ColumnsOf lists the columns referenced by expr, in first-seen order.
func ColumnsOf(expr Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *ColumnRef:
			k := strings.ToLower(n.Name)
			if !seen[k] {
				seen[k] = true
				out = append(out, n.Name)
			}
		case *LikeExpr:
			walk(n.Expr)
		case *InExpr:
			walk(n.Expr)
			for _, item := range n.List {
				walk(item)
			}
		case *BetweenExpr:
			walk(n.Expr)
			walk(n.Low)
			walk(n.High)
		case *IsNullExpr:
			walk(n.Expr)
		}
	}
	if expr != nil {
		walk(expr)
	}
	return out
}
