package main

import (
	"fmt"
	"log"
	"time"

	"nexumdb/pkg/client"
	"nexumdb/pkg/common"
)

func main() {
	fmt.Println("Connecting to NexumDB...")
	cli, err := client.Dial("localhost:9090")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cli.Close()

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS users",
		"CREATE TABLE users (id INTEGER, name TEXT, age INTEGER)",
		"INSERT INTO users VALUES (1, 'Alice', 30), (2, 'Bob', 25)",
	} {
		if _, err := cli.Query(stmt); err != nil {
			log.Fatalf("%s: %v", stmt, err)
		}
	}

	// The second query is a paraphrase; it should come back from the
	// semantic cache without touching storage.
	for _, q := range []string{
		"SELECT name, age FROM users WHERE age > 20 ORDER BY age",
		"select name, age from users where age > 20 order by age",
	} {
		start := time.Now()
		res, err := cli.Query(q)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("%s\n  -> %s (%s, in %v)\n", q, rowsString(res), source(res), time.Since(start))
	}

	if _, err := cli.Query("SELECT nickname FROM users"); err != nil {
		fmt.Printf("Expected error: %v\n", err)
	}
}

func rowsString(res *common.Result) string {
	out := ""
	for i, row := range res.Rows {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%v", row)
	}
	return "[" + out + "]"
}

func source(res *common.Result) string {
	switch {
	case res.SemanticHit:
		return "semantic cache hit"
	case res.CacheHit:
		return "cache hit"
	}
	return "executed via " + res.Strategy
}
