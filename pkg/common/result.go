package common

import "time"

type ResultKind int

const (
	ResultCreated ResultKind = iota
	ResultDropped
	ResultTableList
	ResultDescription
	ResultInserted
	ResultSelected
	ResultUpdated
	ResultDeleted
)

func (k ResultKind) String() string {
	switch k {
	case ResultCreated:
		return "created"
	case ResultDropped:
		return "dropped"
	case ResultTableList:
		return "table_list"
	case ResultDescription:
		return "description"
	case ResultInserted:
		return "inserted"
	case ResultSelected:
		return "selected"
	case ResultUpdated:
		return "updated"
	case ResultDeleted:
		return "deleted"
	}
	return "unknown"
}

func (k ResultKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ResultKind) UnmarshalText(b []byte) error {
	for c := ResultCreated; c <= ResultDeleted; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	*k = ResultSelected
	return nil
}

// Result is what the executor hands back for any statement. Row sets are
// owned by the caller.
type Result struct {
	Kind     ResultKind `json:"kind"`
	Table    string     `json:"table,omitempty"`
	Columns  []string   `json:"columns,omitempty"`
	Rows     []Row      `json:"rows,omitempty"`
	Tables   []string   `json:"tables,omitempty"`
	Schema   *Schema    `json:"schema,omitempty"`
	Affected int        `json:"affected"`

	CacheHit    bool          `json:"cache_hit"`
	SemanticHit bool          `json:"semantic_hit"`
	Strategy    string        `json:"strategy,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Clone deep-copies the row set and schema.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.Columns != nil {
		out.Columns = append([]string(nil), r.Columns...)
	}
	if r.Tables != nil {
		out.Tables = append([]string(nil), r.Tables...)
	}
	if r.Rows != nil {
		out.Rows = make([]Row, len(r.Rows))
		for i, row := range r.Rows {
			out.Rows[i] = row.Clone()
		}
	}
	out.Schema = r.Schema.Clone()
	return &out
}

// NativeRows converts the row set to plain Go values.
func (r *Result) NativeRows() [][]interface{} {
	out := make([][]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		vals := make([]interface{}, len(row))
		for j, v := range row {
			vals[j] = v.Native()
		}
		out[i] = vals
	}
	return out
}
