package scheduler

import (
	"sync"
	"time"

	"viewpulse/internal/alerting"
	"viewpulse/internal/monitor"
)

type Stage string

const (
	StageFetchFailed Stage = "fetch_failed"
	StageStoreFailed Stage = "store_failed"
	StageClassified  Stage = "classified"
	StageAlerted     Stage = "alerted"
	StageSuppressed  Stage = "suppressed"
	StagePanic       Stage = "panic"
)

// ItemResult describes how far one item's pipeline run got.
type ItemResult struct {
	ItemID      string           `json:"itemId"`
	Stage       Stage            `json:"stage"`
	Measurement int64            `json:"measurement"`
	Snapshot    monitor.Snapshot `json:"snapshot"`
	Dispatch    *alerting.Result `json:"dispatch,omitempty"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
}

func (r ItemResult) withErr(err error) ItemResult {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type SweepStats struct {
	Duration time.Duration `json:"duration"`
	Items    int           `json:"items"`
	Stages   map[Stage]int `json:"stages"`
	Err      error         `json:"-"`
}

type statsCollector struct {
	mu     sync.Mutex
	stages map[Stage]int
}

func (c *statsCollector) add(stage Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stages == nil {
		c.stages = map[Stage]int{}
	}
	c.stages[stage]++
}

func (c *statsCollector) snapshot() map[Stage]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Stage]int, len(c.stages))
	for k, v := range c.stages {
		out[k] = v
	}
	return out
}
