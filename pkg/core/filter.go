package core

import (
	"fmt"

	"nexumdb/pkg/common"
	"nexumdb/pkg/errors"
	"nexumdb/pkg/sql"
)

// evaluator evaluates WHERE expressions against rows of one table.
// Comparisons involving NULL are false; comparing incompatible kinds is a
// TypeError.
type evaluator struct {
	schema *common.Schema
}

// matches reports whether row satisfies expr. A nil expr matches every row.
func (ev *evaluator) matches(expr sql.Expr, row common.Row) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := ev.eval(expr, row)
	if err != nil {
		return false, err
	}
	return ev.truth(v, expr)
}

func (ev *evaluator) truth(v common.Value, expr sql.Expr) (bool, error) {
	switch v.Kind {
	case common.TypeBoolean:
		return v.Bool, nil
	case common.TypeNull:
		return false, nil
	}
	return false, errors.Typef(ev.schema.Name, columnName(expr), v.String(),
		"%s is not a boolean condition", sql.FormatExpr(expr, true))
}

func (ev *evaluator) eval(expr sql.Expr, row common.Row) (common.Value, error) {
	switch e := expr.(type) {
	case *sql.Literal:
		return e.Value, nil

	case *sql.ColumnRef:
		idx, ok := ev.schema.ColumnIndex(e.Name)
		if !ok {
			return common.Value{}, errors.Schemaf(ev.schema.Name, e.Name,
				"column %s not found in table %s", e.Name, ev.schema.Name)
		}
		if idx >= len(row) {
			return common.NullValue(), nil
		}
		return row[idx], nil

	case *sql.BinaryExpr:
		switch e.Op {
		case sql.OpAnd, sql.OpOr:
			return ev.logical(e, row)
		}
		return ev.compare(e, row)

	case *sql.NotExpr:
		ok, err := ev.matches(e.Expr, row)
		if err != nil {
			return common.Value{}, err
		}
		return common.BoolValue(!ok), nil

	case *sql.IsNullExpr:
		v, err := ev.eval(e.Expr, row)
		if err != nil {
			return common.Value{}, err
		}
		return common.BoolValue(v.IsNull() != e.Not), nil

	case *sql.LikeExpr:
		v, err := ev.eval(e.Expr, row)
		if err != nil {
			return common.Value{}, err
		}
		if v.IsNull() {
			return common.BoolValue(false), nil
		}
		if v.Kind != common.TypeText {
			return common.Value{}, errors.Typef(ev.schema.Name, columnName(e.Expr), v.String(),
				"LIKE needs a TEXT operand, got %s", v.Kind)
		}
		return common.BoolValue(likeMatch(v.Text, e.Pattern) != e.Not), nil

	case *sql.InExpr:
		v, err := ev.eval(e.Expr, row)
		if err != nil {
			return common.Value{}, err
		}
		if v.IsNull() {
			return common.BoolValue(false), nil
		}
		found := false
		for _, item := range e.List {
			iv, err := ev.eval(item, row)
			if err != nil {
				return common.Value{}, err
			}
			if iv.IsNull() {
				continue
			}
			c, err := common.Compare(v, iv)
			if err != nil {
				return common.Value{}, ev.mismatch(e.Expr, item, iv, err)
			}
			if c == 0 {
				found = true
				break
			}
		}
		return common.BoolValue(found != e.Not), nil

	case *sql.BetweenExpr:
		v, err := ev.eval(e.Expr, row)
		if err != nil {
			return common.Value{}, err
		}
		lo, err := ev.eval(e.Low, row)
		if err != nil {
			return common.Value{}, err
		}
		hi, err := ev.eval(e.High, row)
		if err != nil {
			return common.Value{}, err
		}
		if v.IsNull() || lo.IsNull() || hi.IsNull() {
			return common.BoolValue(false), nil
		}
		cl, err := common.Compare(v, lo)
		if err != nil {
			return common.Value{}, ev.mismatch(e.Expr, e.Low, lo, err)
		}
		ch, err := common.Compare(v, hi)
		if err != nil {
			return common.Value{}, ev.mismatch(e.Expr, e.High, hi, err)
		}
		in := cl >= 0 && ch <= 0
		return common.BoolValue(in != e.Not), nil
	}
	return common.Value{}, fmt.Errorf("unsupported expression %T", expr)
}

func (ev *evaluator) logical(e *sql.BinaryExpr, row common.Row) (common.Value, error) {
	left, err := ev.matches(e.Left, row)
	if err != nil {
		return common.Value{}, err
	}
	if e.Op == sql.OpAnd && !left {
		return common.BoolValue(false), nil
	}
	if e.Op == sql.OpOr && left {
		return common.BoolValue(true), nil
	}
	right, err := ev.matches(e.Right, row)
	if err != nil {
		return common.Value{}, err
	}
	return common.BoolValue(right), nil
}

func (ev *evaluator) compare(e *sql.BinaryExpr, row common.Row) (common.Value, error) {
	l, err := ev.eval(e.Left, row)
	if err != nil {
		return common.Value{}, err
	}
	r, err := ev.eval(e.Right, row)
	if err != nil {
		return common.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return common.BoolValue(false), nil
	}
	c, err := common.Compare(l, r)
	if err != nil {
		return common.Value{}, ev.mismatch(e.Left, e.Right, r, err)
	}

	var ok bool
	switch e.Op {
	case sql.OpEq:
		ok = c == 0
	case sql.OpNe:
		ok = c != 0
	case sql.OpLt:
		ok = c < 0
	case sql.OpLe:
		ok = c <= 0
	case sql.OpGt:
		ok = c > 0
	case sql.OpGe:
		ok = c >= 0
	default:
		return common.Value{}, fmt.Errorf("unsupported operator %s", e.Op)
	}
	return common.BoolValue(ok), nil
}

func (ev *evaluator) mismatch(subject, other sql.Expr, otherVal common.Value, cause error) error {
	col := columnName(subject)
	if col == "" {
		col = columnName(other)
	}
	return errors.Typef(ev.schema.Name, col, otherVal.String(), "%v in %s", cause, ev.schema.Name)
}

func columnName(expr sql.Expr) string {
	if c, ok := expr.(*sql.ColumnRef); ok {
		return c.Name
	}
	return ""
}

// likeMatch matches s against a LIKE pattern anchored at both ends:
// % matches any run (including empty), _ exactly one character.
func likeMatch(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case pi < len(pat) && pat[pi] == '%':
			star, mark = pi, si
			pi++
		case star >= 0:
			// let the last % absorb one more character
			mark++
			si, pi = mark, star+1
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}
