// Package optimizer 实现自适应执行策略选择：一个按查询形状学习的
// epsilon-greedy 策略，以观测到的延迟为奖励更新 Q 表。
package optimizer

import (
	"fmt"
	"math"
	"strings"

	"nexumdb/pkg/sql"
)

// Strategy is an execution strategy for a SELECT. All strategies return the
// same rows; they differ in cost.
type Strategy int

const (
	// StrategyScanFilter materializes the scan, then filters, sorts and limits.
	StrategyScanFilter Strategy = iota
	// StrategyStreaming filters while scanning, stops early under a bare
	// LIMIT and keeps a bounded top-k under ORDER BY + LIMIT.
	StrategyStreaming
	// StrategyCacheBypass is StrategyScanFilter without caching the result.
	StrategyCacheBypass
)

// Strategies lists every action in index order.
var Strategies = []Strategy{StrategyScanFilter, StrategyStreaming, StrategyCacheBypass}

func (s Strategy) String() string {
	switch s {
	case StrategyScanFilter:
		return "scan_filter"
	case StrategyStreaming:
		return "streaming"
	case StrategyCacheBypass:
		return "cache_bypass"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

func (s Strategy) valid() bool {
	return s >= 0 && int(s) < len(Strategies)
}

func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// QueryShape is the discretized state the policy learns over.
type QueryShape struct {
	Kind       string `json:"kind"`
	HasFilter  bool   `json:"has_filter"`
	HasOrderBy bool   `json:"has_order_by"`
	HasLimit   bool   `json:"has_limit"`
	SizeBucket int    `json:"size_bucket"`
}

func (q QueryShape) Key() string {
	return fmt.Sprintf("%s|f=%d|o=%d|l=%d|s=%d",
		q.Kind, b2i(q.HasFilter), b2i(q.HasOrderBy), b2i(q.HasLimit), q.SizeBucket)
}

const maxSizeBucket = 6

// SizeBucket maps an estimated row count to 0 (empty or unknown) or
// 1 + floor(log10(rows)), capped at 6.
func SizeBucket(rows int) int {
	if rows <= 0 {
		return 0
	}
	b := 1 + int(math.Floor(math.Log10(float64(rows))))
	if b > maxSizeBucket {
		return maxSizeBucket
	}
	return b
}

// ShapeOf derives the shape of stmt against a table of about rows rows.
func ShapeOf(stmt sql.Statement, rows int) QueryShape {
	shape := QueryShape{Kind: sql.KindOf(stmt), SizeBucket: SizeBucket(rows)}
	switch s := stmt.(type) {
	case *sql.Select:
		shape.HasFilter = s.Where != nil
		shape.HasOrderBy = len(s.OrderBy) > 0
		shape.HasLimit = s.Limit != nil
	case *sql.Update:
		shape.HasFilter = s.Where != nil
	case *sql.Delete:
		shape.HasFilter = s.Where != nil
	}
	return shape
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
