package models

// StatsUpdateType tags aggregate snapshots pushed to live viewers.
const StatsUpdateType = "stats_update"

// AggregateSnapshot is one point-in-time computation over the full case collection.
type AggregateSnapshot struct {
	TotalCases  int            `json:"totalCases"`
	BySeverity  map[int]int    `json:"bySeverity"`
	ByDisease   map[string]int `json:"byDisease"`
	RecentCount int            `json:"recentCount"`
}

// NewAggregateSnapshot returns an empty snapshot with every severity bucket present.
func NewAggregateSnapshot() AggregateSnapshot {
	bySeverity := make(map[int]int, MaxSeverityLevel+1)
	for level := MinSeverityLevel; level <= MaxSeverityLevel; level++ {
		bySeverity[level] = 0
	}
	return AggregateSnapshot{
		BySeverity: bySeverity,
		ByDisease:  map[string]int{},
	}
}

// StatsMessage is the envelope written to stream subscribers.
type StatsMessage struct {
	Type string            `json:"type"`
	Data AggregateSnapshot `json:"data"`
}
