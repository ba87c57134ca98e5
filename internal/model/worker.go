package model

import "time"

// Worker is a registered compute endpoint. A worker is considered live
// while its LastSeen timestamp is within the liveness threshold; stale
// workers are simply ignored, never explicitly removed.
type Worker struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}
