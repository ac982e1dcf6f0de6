package main

import (
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"nexumdb/pkg/client"
	"nexumdb/pkg/common"
	"nexumdb/pkg/config"
	"nexumdb/pkg/core"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	rounds     int
	rows       int
	writeEvery int
	epsilon    float64
	seed       int64
	tcpAddr    string
)

var rootCmd = &cobra.Command{
	Use:   "nexum-bench",
	Short: "Drive a repeated SELECT workload and report cache and policy behaviour",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tcpAddr != "" {
			return runRemote()
		}
		return runEmbedded()
	},
}

func init() {
	rootCmd.Flags().IntVarP(&rounds, "rounds", "n", 200, "number of workload rounds")
	rootCmd.Flags().IntVar(&rows, "rows", 2000, "rows seeded into the bench table")
	rootCmd.Flags().IntVar(&writeEvery, "write-every", 25, "insert one row every N rounds (0 disables writes)")
	rootCmd.Flags().Float64Var(&epsilon, "epsilon", 0.1, "policy exploration rate")
	rootCmd.Flags().Int64Var(&seed, "seed", 1, "random seed for the workload and the policy")
	rootCmd.Flags().StringVar(&tcpAddr, "tcp", "", "run against a NexumDB TCP server instead of an embedded database")
}

// workload is a fixed set of reads; paraphrases differ only in case,
// spacing or literal so they exercise semantic lookups.
var workload = []string{
	"SELECT id, name FROM bench WHERE score > 50",
	"select id, name from bench where score > 50",
	"SELECT id, name FROM bench WHERE score > 51",
	"SELECT * FROM bench WHERE active = true LIMIT 10",
	"SELECT name FROM bench ORDER BY score DESC LIMIT 5",
	"SELECT name   FROM bench ORDER BY score DESC LIMIT 5",
	"SELECT id FROM bench WHERE name LIKE 'user_1%'",
	"SELECT id, score FROM bench WHERE score BETWEEN 10 AND 20 ORDER BY id",
}

type querier func(text string) (*common.Result, error)

func seedTable(q querier) error {
	if _, err := q("CREATE TABLE IF NOT EXISTS bench (id INTEGER, name TEXT, score INTEGER, active BOOLEAN)"); err != nil {
		return err
	}
	const batch = 200
	for start := 0; start < rows; start += batch {
		stmt := "INSERT INTO bench VALUES "
		for i := start; i < start+batch && i < rows; i++ {
			if i > start {
				stmt += ", "
			}
			stmt += fmt.Sprintf("(%d, 'user_%d', %d, %t)", i, i, (i*37)%100, i%3 == 0)
		}
		if _, err := q(stmt); err != nil {
			return err
		}
	}
	return nil
}

type tally struct {
	queries, hits, semantic, errors int
	byStrategy                      map[string]int
	elapsed                         time.Duration
}

func drive(q querier) (*tally, error) {
	rng := rand.New(rand.NewSource(seed))
	t := &tally{byStrategy: make(map[string]int)}
	next := rows

	start := time.Now()
	for r := 0; r < rounds; r++ {
		if writeEvery > 0 && r > 0 && r%writeEvery == 0 {
			stmt := fmt.Sprintf("INSERT INTO bench VALUES (%d, 'user_%d', %d, true)", next, next, next%100)
			if _, err := q(stmt); err != nil {
				return nil, err
			}
			next++
		}
		for _, i := range rng.Perm(len(workload)) {
			res, err := q(workload[i])
			t.queries++
			if err != nil {
				t.errors++
				continue
			}
			switch {
			case res.SemanticHit:
				t.semantic++
				t.hits++
			case res.CacheHit:
				t.hits++
			default:
				t.byStrategy[res.Strategy]++
			}
		}
	}
	t.elapsed = time.Since(start)
	return t, nil
}

func (t *tally) print() {
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Queries:        %d in %v (%.0f QPS)\n", t.queries, t.elapsed, float64(t.queries)/t.elapsed.Seconds())
	answered := t.queries - t.errors
	if answered > 0 {
		fmt.Printf("Cache hits:     %d (%.1f%%), semantic %d\n", t.hits, 100*float64(t.hits)/float64(answered), t.semantic)
	}
	fmt.Printf("Errors:         %d\n", t.errors)
	for _, s := range []string{"scan_filter", "streaming", "cache_bypass"} {
		fmt.Printf("  %-14s%d executions\n", s+":", t.byStrategy[s])
	}
}

func runEmbedded() error {
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.Policy.Epsilon = epsilon
	cfg.Policy.Seed = seed
	logger, err := cfg.NewLogger(true)
	if err != nil {
		return err
	}
	db, err := core.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("NexumDB Workload Benchmark (embedded, rounds=%d, rows=%d)\n", rounds, rows)
	if err := seedTable(db.Query); err != nil {
		return err
	}
	t, err := drive(db.Query)
	if err != nil {
		return err
	}
	t.print()

	fmt.Println("---------------------------------------------------")
	fmt.Println("Learned strategy values (Q, visits):")
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "state\tscan_filter\tstreaming\tcache_bypass\tbest")
	for _, st := range db.Policy().Snapshot() {
		fmt.Fprintf(tw, "%s\t%.2f (%d)\t%.2f (%d)\t%.2f (%d)\t%s\n", st.Key,
			st.Values["scan_filter"], st.Visits["scan_filter"],
			st.Values["streaming"], st.Visits["streaming"],
			st.Values["cache_bypass"], st.Visits["cache_bypass"],
			st.Best)
	}
	return tw.Flush()
}

func runRemote() error {
	cli, err := client.Dial(tcpAddr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", tcpAddr, err)
	}
	defer cli.Close()

	fmt.Printf("NexumDB Workload Benchmark (tcp=%s, rounds=%d, rows=%d)\n", tcpAddr, rounds, rows)
	if _, err := cli.Query("DROP TABLE IF EXISTS bench"); err != nil {
		return err
	}
	if err := seedTable(cli.Query); err != nil {
		return err
	}
	t, err := drive(cli.Query)
	if err != nil {
		return err
	}
	t.print()

	raw, err := cli.Stats()
	if err != nil {
		return err
	}
	var report core.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return err
	}
	fmt.Printf("Server hit rate: %.1f%% (%d policy states)\n", 100*report.Workload.HitRate, report.PolicyStates)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
