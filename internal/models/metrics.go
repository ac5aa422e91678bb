package models

import "time"

// SystemMetrics is a lightweight snapshot of runtime counters for the ops endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	DecisionsTotal           uint64    `json:"decisionsTotal"`
	DecisionConflicts        uint64    `json:"decisionConflicts"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
