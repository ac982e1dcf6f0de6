package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nexumdb/pkg/common"
)

// reserved words cannot be used as bare identifiers.
var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "ORDER": true, "BY": true,
	"LIMIT": true, "AND": true, "OR": true, "NOT": true, "INSERT": true,
	"INTO": true, "VALUES": true, "UPDATE": true, "SET": true, "DELETE": true,
	"CREATE": true, "TABLE": true, "DROP": true, "LIKE": true, "IN": true,
	"BETWEEN": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
	"AS": true, "ASC": true, "DESC": true,
}

type parser struct {
	text string
	toks []token
	pos  int
}

// Parse parses one statement. A trailing semicolon is allowed.
//
//	CREATE TABLE [IF NOT EXISTS] t (col TYPE, ...)
//	DROP TABLE [IF EXISTS] t
//	SHOW TABLES | DESCRIBE t
//	INSERT INTO t [(col, ...)] VALUES (v, ...), ...
//	SELECT *|col [AS a], ... FROM t [WHERE expr] [ORDER BY col [ASC|DESC], ...] [LIMIT n]
//	UPDATE t SET col = v, ... [WHERE expr]
//	DELETE FROM t [WHERE expr]
func Parse(s string) (Statement, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil, errors.New("empty query")
	}
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, toks: toks}

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.acceptSymbol(";")
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %s after statement", p.peek())
	}
	return stmt, nil
}

func (p *parser) parseStatement() (Statement, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return nil, p.errorf("expected a statement, found %s", t)
	}
	switch strings.ToUpper(t.text) {
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "SHOW":
		p.next()
		if err := p.expectKeyword("TABLES"); err != nil {
			return nil, err
		}
		return &ShowTables{Text: p.text}, nil
	case "DESCRIBE", "DESC":
		p.next()
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &Describe{Text: p.text, Table: name}, nil
	}
	return nil, p.errorf("unsupported statement %s", t)
}

func (p *parser) parseCreate() (Statement, error) {
	p.next()
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	stmt := &CreateTable{Text: p.text}
	if p.acceptKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Name = name

	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.acceptSymbol(",") {
			continue
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.ident()
	if err != nil {
		return ColumnDef{}, err
	}
	t := p.next()
	if t.kind != tokIdent {
		return ColumnDef{}, p.errorAt(t, "expected a type for column %s, found %s", name, t)
	}
	dt, err := ParseTypeName(t.text)
	if err != nil {
		return ColumnDef{}, p.errorAt(t, "%v", err)
	}
	// VARCHAR(255) and friends: the length is accepted and ignored
	if p.acceptSymbol("(") {
		for p.peek().kind == tokNumber || p.peek().text == "," {
			p.next()
		}
		if err := p.expectSymbol(")"); err != nil {
			return ColumnDef{}, err
		}
	}
	// column constraints are accepted and ignored
	for {
		switch {
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
		case p.acceptKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
		case p.acceptKeyword("NULL"), p.acceptKeyword("UNIQUE"):
		default:
			return ColumnDef{Name: name, Type: dt}, nil
		}
	}
}

// ParseTypeName maps a declarable column type name to its DataType.
func ParseTypeName(name string) (common.DataType, error) {
	dt, err := common.ParseDataType(name)
	if err != nil || dt == common.TypeNull {
		return common.TypeNull, fmt.Errorf("unsupported column type %s", name)
	}
	return dt, nil
}

func (p *parser) parseDrop() (Statement, error) {
	p.next()
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	stmt := &DropTable{Text: p.text}
	if p.acceptKeyword("IF") {
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name
	return stmt, nil
}

func (p *parser) parseInsert() (Statement, error) {
	p.next()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &Insert{Text: p.text, Table: name}

	if p.acceptSymbol("(") {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.acceptSymbol(",") {
				continue
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []common.Value
		for {
			v, err := p.literalValue()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			if p.acceptSymbol(",") {
				continue
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			break
		}
		stmt.Values = append(stmt.Values, row)
		if !p.acceptSymbol(",") {
			break
		}
	}
	return stmt, nil
}

func (p *parser) parseSelect() (Statement, error) {
	p.next()
	stmt := &Select{Text: p.text}

	for {
		if p.acceptSymbol("*") {
			stmt.Projection = append(stmt.Projection, SelectItem{Column: "*", Wildcard: true})
		} else {
			col, err := p.columnName()
			if err != nil {
				return nil, err
			}
			item := SelectItem{Column: col}
			if p.acceptKeyword("AS") {
				if item.Alias, err = p.ident(); err != nil {
					return nil, err
				}
			} else if t := p.peek(); t.kind == tokQuotedIdent || (t.kind == tokIdent && !reserved[strings.ToUpper(t.text)]) {
				item.Alias, _ = p.ident()
			}
			stmt.Projection = append(stmt.Projection, item)
		}
		if !p.acceptSymbol(",") {
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = name

	if p.acceptKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.columnName()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Column: col}
			if p.acceptKeyword("DESC") {
				item.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	if p.acceptKeyword("LIMIT") {
		t := p.next()
		if t.kind != tokNumber {
			return nil, p.errorAt(t, "expected a row count after LIMIT, found %s", t)
		}
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 0 {
			return nil, p.errorAt(t, "invalid LIMIT value %s", t.text)
		}
		stmt.Limit = &n
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	p.next()
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &Update{Text: p.text, Table: name}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.columnName()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		v, err := p.literalValue()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: v})
		if !p.acceptSymbol(",") {
			break
		}
	}
	if p.acceptKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.next()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &Delete{Text: p.text, Table: name}
	if p.acceptKeyword("WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// Expressions, loosest binding first: OR, AND, NOT, predicate.

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expr, error) {
	if p.acceptSymbol("(") {
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if t := p.peek(); t.kind == tokSymbol {
		op := ""
		switch t.text {
		case "=", "==":
			op = OpEq
		case "!=", "<>":
			op = OpNe
		case "<":
			op = OpLt
		case "<=":
			op = OpLe
		case ">":
			op = OpGt
		case ">=":
			op = OpGe
		}
		if op != "" {
			p.next()
			right, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &BinaryExpr{Op: op, Left: left, Right: right}, nil
		}
	}

	if p.acceptKeyword("IS") {
		not := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: left, Not: not}, nil
	}

	not := p.acceptKeyword("NOT")
	switch {
	case p.acceptKeyword("LIKE"):
		t := p.next()
		if t.kind != tokString {
			return nil, p.errorAt(t, "expected a string pattern after LIKE, found %s", t)
		}
		return &LikeExpr{Expr: left, Pattern: t.text, Not: not}, nil
	case p.acceptKeyword("IN"):
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		in := &InExpr{Expr: left, Not: not}
		for {
			item, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, item)
			if p.acceptSymbol(",") {
				continue
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			break
		}
		return in, nil
	case p.acceptKeyword("BETWEEN"):
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
	}
	if not {
		return nil, p.errorf("expected LIKE, IN or BETWEEN after NOT, found %s", p.peek())
	}

	// a bare operand is a boolean predicate
	return left, nil
}

func (p *parser) parseOperand() (Expr, error) {
	t := p.peek()
	if t.kind == tokQuotedIdent || (t.kind == tokIdent && !isLiteralKeyword(t.text)) {
		name, err := p.columnName()
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Name: name}, nil
	}
	v, err := p.literalValue()
	if err != nil {
		return nil, err
	}
	return &Literal{Value: v}, nil
}

func isLiteralKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "TRUE", "FALSE", "NULL":
		return true
	}
	return false
}

func (p *parser) literalValue() (common.Value, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return common.TextValue(t.text), nil
	case tokNumber:
		return parseNumber(t.text, false)
	case tokSymbol:
		if t.text == "-" || t.text == "+" {
			n := p.next()
			if n.kind != tokNumber {
				return common.Value{}, p.errorAt(n, "expected a number after %s, found %s", t.text, n)
			}
			v, err := parseNumber(n.text, t.text == "-")
			if err != nil {
				return common.Value{}, p.errorAt(n, "%v", err)
			}
			return v, nil
		}
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return common.BoolValue(true), nil
		case "FALSE":
			return common.BoolValue(false), nil
		case "NULL":
			return common.NullValue(), nil
		}
	}
	return common.Value{}, p.errorAt(t, "expected a literal value, found %s", t)
}

func parseNumber(text string, negative bool) (common.Value, error) {
	if negative {
		text = "-" + text
	}
	if !strings.ContainsAny(text, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return common.IntValue(n), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return common.Value{}, fmt.Errorf("invalid number %s", text)
	}
	return common.FloatValue(f), nil
}

// columnName reads an identifier, dropping a "table." qualifier.
func (p *parser) columnName() (string, error) {
	name, err := p.ident()
	if err != nil {
		return "", err
	}
	if p.acceptSymbol(".") {
		return p.ident()
	}
	return name, nil
}

func (p *parser) ident() (string, error) {
	t := p.next()
	switch {
	case t.kind == tokQuotedIdent:
		return t.text, nil
	case t.kind == tokIdent && !reserved[strings.ToUpper(t.text)]:
		return t.text, nil
	}
	return "", p.errorAt(t, "expected an identifier, found %s", t)
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s, found %s", kw, p.peek())
	}
	return nil
}

func (p *parser) acceptSymbol(s string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		return p.errorf("expected %q, found %s", s, p.peek())
	}
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return p.errorAt(p.peek(), format, args...)
}

func (p *parser) errorAt(t token, format string, args ...interface{}) error {
	return &ParseError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}
