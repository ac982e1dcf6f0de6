package monitor

import (
	"sync/atomic"
)

type WorkloadStats struct {
	ReadCount        uint64
	WriteCount       uint64
	ScanCount        uint64
	HitCount         uint64
	SemanticHitCount uint64
	MissCount        uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Reads        uint64  `json:"reads"`
	Writes       uint64  `json:"writes"`
	Scans        uint64  `json:"scans"`
	Hits         uint64  `json:"hits"`
	SemanticHits uint64  `json:"semantic_hits"`
	Misses       uint64  `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	ReadWrite    float64 `json:"read_write_ratio"`
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead() {
	atomic.AddUint64(&ws.ReadCount, 1)
}

func (ws *WorkloadStats) RecordWrite() {
	atomic.AddUint64(&ws.WriteCount, 1)
}

// RecordScan counts one full table scan against storage.
func (ws *WorkloadStats) RecordScan() {
	atomic.AddUint64(&ws.ScanCount, 1)
}

func (ws *WorkloadStats) RecordHit() {
	atomic.AddUint64(&ws.HitCount, 1)
}

// RecordSemanticHit counts a hit that was served by similarity rather than
// an exact fingerprint. It is also counted as a hit.
func (ws *WorkloadStats) RecordSemanticHit() {
	atomic.AddUint64(&ws.HitCount, 1)
	atomic.AddUint64(&ws.SemanticHitCount, 1)
}

func (ws *WorkloadStats) RecordMiss() {
	atomic.AddUint64(&ws.MissCount, 1)
}

func (ws *WorkloadStats) Scans() uint64 {
	return atomic.LoadUint64(&ws.ScanCount)
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}

func (ws *WorkloadStats) HitRate() float64 {
	hits := atomic.LoadUint64(&ws.HitCount)
	misses := atomic.LoadUint64(&ws.MissCount)
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (ws *WorkloadStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Reads:        atomic.LoadUint64(&ws.ReadCount),
		Writes:       atomic.LoadUint64(&ws.WriteCount),
		Scans:        atomic.LoadUint64(&ws.ScanCount),
		Hits:         atomic.LoadUint64(&ws.HitCount),
		SemanticHits: atomic.LoadUint64(&ws.SemanticHitCount),
		Misses:       atomic.LoadUint64(&ws.MissCount),
		HitRate:      ws.HitRate(),
		ReadWrite:    ws.GetReadWriteRatio(),
	}
}
