// Package metrics keeps in-memory counters for the server's stats endpoint.
package metrics

import (
	"sync"
	"time"
)

// Operation names recorded by the server.
const (
	OpLLMGenerate       = "llm_generate"
	OpInference         = "inference"
	OpReceiptExtraction = "receipt_extraction"
	OpAgentRun          = "agent_run"
	OpBrowserStep       = "browser_step"
)

// spread accumulates count, total and range of a series of samples.
type spread struct {
	n        int64
	sum      int64
	min, max int64
}

func (s *spread) add(v int64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
}

func (s spread) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.n)
}

type opStats struct {
	failures  int64
	durations spread // milliseconds
	input     spread
	output    spread
}

// OperationSnapshot is the JSON view of one operation's stats.
type OperationSnapshot struct {
	Count       int64          `json:"count"`
	Failures    int64          `json:"failures"`
	TotalTimeMs int64          `json:"total_time_ms"`
	AvgTimeMs   float64        `json:"avg_time_ms"`
	MinTimeMs   int64          `json:"min_time_ms"`
	MaxTimeMs   int64          `json:"max_time_ms"`
	Tokens      *TokenSnapshot `json:"tokens,omitempty"`
}

// TokenSnapshot reports model token usage. Only set for LLM operations.
type TokenSnapshot struct {
	Input  TokenRange `json:"input"`
	Output TokenRange `json:"output"`
}

// TokenRange summarizes token counts per call.
type TokenRange struct {
	Total int64   `json:"total"`
	Avg   float64 `json:"avg"`
	Min   int64   `json:"min"`
	Max   int64   `json:"max"`
}

// Snapshot is the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds     float64            `json:"uptime_seconds"`
	LLMGenerate       *OperationSnapshot `json:"llm_generate,omitempty"`
	Inference         *OperationSnapshot `json:"inference,omitempty"`
	ReceiptExtraction *OperationSnapshot `json:"receipt_extraction,omitempty"`
	AgentRun          *OperationSnapshot `json:"agent_run,omitempty"`
	BrowserStep       *OperationSnapshot `json:"browser_step,omitempty"`
	RunsInFlight      int64              `json:"runs_in_flight"`
}

// Collector is safe for concurrent use. A nil *Collector discards everything.
type Collector struct {
	mu       sync.Mutex
	started  time.Time
	ops      map[string]*opStats
	inFlight int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		ops:     make(map[string]*opStats),
	}
}

// update runs fn on the stats for op under the lock.
func (c *Collector) update(op string, fn func(*opStats)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.ops[op]
	if !ok {
		s = &opStats{}
		c.ops[op] = s
	}
	fn(s)
}

// RecordTiming records one successful call of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.update(op, func(s *opStats) {
		s.durations.add(d.Milliseconds())
	})
}

// RecordFailure counts a failed call. Failures do not affect timings.
func (c *Collector) RecordFailure(op string) {
	c.update(op, func(s *opStats) { s.failures++ })
}

// RecordLLMUsage records a model call with its token usage.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64) {
	c.update(op, func(s *opStats) {
		s.durations.add(d.Milliseconds())
		s.input.add(inputTokens)
		s.output.add(outputTokens)
	})
}

// RunStarted marks a background run as in flight.
func (c *Collector) RunStarted() { c.addInFlight(1) }

// RunFinished marks a background run as done.
func (c *Collector) RunFinished() { c.addInFlight(-1) }

func (c *Collector) addInFlight(delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.inFlight += delta
	c.mu.Unlock()
}

func (s *opStats) snapshot() *OperationSnapshot {
	if s == nil || (s.durations.n == 0 && s.failures == 0) {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       s.durations.n,
		Failures:    s.failures,
		TotalTimeMs: s.durations.sum,
		AvgTimeMs:   s.durations.avg(),
		MinTimeMs:   s.durations.min,
		MaxTimeMs:   s.durations.max,
	}
	if s.input.sum > 0 || s.output.sum > 0 {
		snap.Tokens = &TokenSnapshot{
			Input:  tokenRange(s.input),
			Output: tokenRange(s.output),
		}
	}
	return snap
}

func tokenRange(s spread) TokenRange {
	return TokenRange{Total: s.sum, Avg: s.avg(), Min: s.min, Max: s.max}
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		UptimeSeconds:     time.Since(c.started).Seconds(),
		LLMGenerate:       c.ops[OpLLMGenerate].snapshot(),
		Inference:         c.ops[OpInference].snapshot(),
		ReceiptExtraction: c.ops[OpReceiptExtraction].snapshot(),
		AgentRun:          c.ops[OpAgentRun].snapshot(),
		BrowserStep:       c.ops[OpBrowserStep].snapshot(),
		RunsInFlight:      c.inFlight,
	}
}
