package sql

import "nexumdb/pkg/common"

// Statement is a parsed SQL statement. SQL returns the text it was parsed
// from, which the semantic cache embeds.
type Statement interface {
	SQL() string
	statement()
}

type ColumnDef struct {
	Name string
	Type common.DataType
}

type CreateTable struct {
	Text        string
	Name        string
	Columns     []ColumnDef
	IfNotExists bool
}

type Insert struct {
	Text    string
	Table   string
	Columns []string // empty means schema order
	Values  [][]common.Value
}

type SelectItem struct {
	Column   string
	Alias    string
	Wildcard bool
}

// OutputName is the result column header for the item.
func (s SelectItem) OutputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Column
}

type OrderItem struct {
	Column string
	Desc   bool
}

type Select struct {
	Text       string
	Table      string
	Projection []SelectItem
	Where      Expr
	OrderBy    []OrderItem
	Limit      *int
}

type Assignment struct {
	Column string
	Value  common.Value
}

type Update struct {
	Text  string
	Table string
	Set   []Assignment
	Where Expr
}

type Delete struct {
	Text  string
	Table string
	Where Expr
}

type ShowTables struct {
	Text string
}

type Describe struct {
	Text  string
	Table string
}

type DropTable struct {
	Text     string
	Table    string
	IfExists bool
}

func (s *CreateTable) SQL() string { return s.Text }
func (s *Insert) SQL() string      { return s.Text }
func (s *Select) SQL() string      { return s.Text }
func (s *Update) SQL() string      { return s.Text }
func (s *Delete) SQL() string      { return s.Text }
func (s *ShowTables) SQL() string  { return s.Text }
func (s *Describe) SQL() string    { return s.Text }
func (s *DropTable) SQL() string   { return s.Text }

func (*CreateTable) statement() {}
func (*Insert) statement()      {}
func (*Select) statement()      {}
func (*Update) statement()      {}
func (*Delete) statement()      {}
func (*ShowTables) statement()  {}
func (*Describe) statement()    {}
func (*DropTable) statement()   {}

// KindOf names the statement type in lower case ("select", "insert", ...).
func KindOf(stmt Statement) string {
	switch stmt.(type) {
	case *CreateTable:
		return "create"
	case *Insert:
		return "insert"
	case *Select:
		return "select"
	case *Update:
		return "update"
	case *Delete:
		return "delete"
	case *ShowTables:
		return "show"
	case *Describe:
		return "describe"
	case *DropTable:
		return "drop"
	}
	return "unknown"
}

// Expr is a WHERE clause node.
type Expr interface {
	expr()
}

const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpEq  = "="
	OpNe  = "!="
	OpLt  = "<"
	OpLe  = "<="
	OpGt  = ">"
	OpGe  = ">="
)

type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

type NotExpr struct {
	Expr Expr
}

type ColumnRef struct {
	Name string
}

type Literal struct {
	Value common.Value
}

// LikeExpr matches Pattern with % (any run) and _ (one character).
type LikeExpr struct {
	Expr    Expr
	Pattern string
	Not     bool
}

type InExpr struct {
	Expr Expr
	List []Expr
	Not  bool
}

// BetweenExpr is inclusive at both ends.
type BetweenExpr struct {
	Expr Expr
	Low  Expr
	High Expr
	Not  bool
}

type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*BinaryExpr) expr()  {}
func (*NotExpr) expr()     {}
func (*ColumnRef) expr()   {}
func (*Literal) expr()     {}
func (*LikeExpr) expr()    {}
func (*InExpr) expr()      {}
func (*BetweenExpr) expr() {}
func (*IsNullExpr) expr()  {}
