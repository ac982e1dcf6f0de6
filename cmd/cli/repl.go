package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"nexumdb/pkg/common"

	"github.com/goccy/go-json"
)

const (
	mainPrompt     = "nexum> "
	continuePrompt = "  ...> "
	maxPrintedRows = 200
)

// shell buffers input lines until a statement ends with ';' and runs meta
// commands that start a fresh line.
type shell struct {
	s       session
	out     io.Writer
	pending strings.Builder
}

func newShell(s session, out io.Writer) *shell {
	return &shell{s: s, out: out}
}

func (sh *shell) prompt() string {
	if sh.pending.Len() > 0 {
		return continuePrompt
	}
	return mainPrompt
}

// handle consumes one input line. It returns false once the user asks to
// leave.
func (sh *shell) handle(line string) bool {
	trimmed := strings.TrimSpace(line)
	if sh.pending.Len() == 0 {
		if trimmed == "" {
			return true
		}
		word := strings.ToLower(strings.TrimSuffix(trimmed, ";"))
		switch word {
		case "exit", "quit", ".exit", ".quit":
			fmt.Fprintln(sh.out, "Bye!")
			return false
		case "help", ".help":
			printHelp(sh.out)
			return true
		}
		if strings.HasPrefix(trimmed, ".") {
			sh.meta(word)
			return true
		}
	}

	sh.pending.WriteString(line)
	sh.pending.WriteByte('\n')
	if !strings.HasSuffix(trimmed, ";") {
		return true
	}
	stmt := sh.pending.String()
	sh.pending.Reset()
	sh.exec(stmt)
	return true
}

// flush runs whatever is buffered, for input that ends without ';'.
func (sh *shell) flush() {
	if strings.TrimSpace(sh.pending.String()) == "" {
		sh.pending.Reset()
		return
	}
	stmt := sh.pending.String()
	sh.pending.Reset()
	sh.exec(stmt)
}

func (sh *shell) exec(stmt string) {
	res, err := sh.s.Query(stmt)
	if err != nil {
		sh.printError(err)
		return
	}
	printResult(sh.out, res)
}

func (sh *shell) meta(cmd string) {
	switch cmd {
	case ".tables":
		sh.exec("SHOW TABLES")
	case ".cache":
		info, err := sh.s.CacheInfo()
		if err != nil {
			sh.printError(err)
			return
		}
		sh.printJSON(info)
	case ".policy":
		states, err := sh.s.Policy()
		if err != nil {
			sh.printError(err)
			return
		}
		if len(states) == 0 {
			fmt.Fprintln(sh.out, "No learned states yet.")
			return
		}
		tw := tabwriter.NewWriter(sh.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "state\tscan_filter\tstreaming\tcache_bypass\tbest")
		for _, st := range states {
			fmt.Fprintf(tw, "%s\t%.2f (%d)\t%.2f (%d)\t%.2f (%d)\t%s\n", st.Key,
				st.Values["scan_filter"], st.Visits["scan_filter"],
				st.Values["streaming"], st.Visits["streaming"],
				st.Values["cache_bypass"], st.Visits["cache_bypass"],
				st.Best)
		}
		tw.Flush()
	case ".save":
		if err := sh.s.SaveCache(); err != nil {
			sh.printError(err)
			return
		}
		fmt.Fprintln(sh.out, "Cache saved.")
	case ".clear":
		if err := sh.s.ClearCache(); err != nil {
			sh.printError(err)
			return
		}
		fmt.Fprintln(sh.out, "Cache cleared.")
	default:
		fmt.Fprintf(sh.out, "Unknown command: '%s'. Type 'help'.\n", cmd)
	}
}

func (sh *shell) printJSON(v interface{}) {
	data, err := json.MarshalIndentWithOption(v, "", "  ", json.DisableHTMLEscape())
	if err != nil {
		sh.printError(err)
		return
	}
	fmt.Fprintln(sh.out, string(data))
}

func (sh *shell) printError(err error) {
	fmt.Fprintf(sh.out, "Error: %v\n", err)
}

func printResult(out io.Writer, res *common.Result) {
	switch res.Kind {
	case common.ResultSelected, common.ResultDescription:
		printRows(out, res.Columns, res.Rows)
		source := res.Strategy
		switch {
		case res.SemanticHit:
			source = "semantic cache hit"
		case res.CacheHit:
			source = "cache hit"
		}
		fmt.Fprintf(out, "(%d rows, %s, %v)\n", len(res.Rows), source, res.Elapsed)
	case common.ResultTableList:
		if len(res.Tables) == 0 {
			fmt.Fprintln(out, "No tables.")
			return
		}
		for _, t := range res.Tables {
			fmt.Fprintln(out, t)
		}
	case common.ResultCreated:
		fmt.Fprintf(out, "Table %s created (%v)\n", res.Table, res.Elapsed)
	case common.ResultDropped:
		fmt.Fprintf(out, "Table %s dropped, %d rows removed (%v)\n", res.Table, res.Affected, res.Elapsed)
	default:
		fmt.Fprintf(out, "OK, %d rows %s (%v)\n", res.Affected, res.Kind, res.Elapsed)
	}
}

func printRows(out io.Writer, columns []string, rows []common.Row) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	cells := make([]string, len(columns))
	for i, row := range rows {
		if i == maxPrintedRows {
			break
		}
		for j := range cells {
			cells[j] = ""
			if j < len(row) {
				cells[j] = row[j].String()
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	if len(rows) > maxPrintedRows {
		fmt.Fprintf(out, "... and %d more\n", len(rows)-maxPrintedRows)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `
Statements end with ';' and may span lines:
  CREATE TABLE [IF NOT EXISTS] t (col TYPE, ...)
  DROP TABLE [IF EXISTS] t
  INSERT INTO t [(cols)] VALUES (...), (...)
  SELECT cols FROM t [WHERE ...] [ORDER BY col [ASC|DESC]] [LIMIT n]
  UPDATE t SET col = value, ... [WHERE ...]
  DELETE FROM t [WHERE ...]
  DESCRIBE t
  SHOW TABLES

Commands:
  .tables     List tables
  .cache      Semantic cache and workload stats
  .policy     Learned strategy values per query shape
  .save       Persist the semantic cache
  .clear      Drop every cached result
  help        Show this help
  exit        Exit the shell`)
}
