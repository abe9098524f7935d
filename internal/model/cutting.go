// Package model defines the data structures shared by the stores, services
// and handlers.
package model

import "time"

// DefaultSpecies is stored when the inference service does not name a species.
const DefaultSpecies = "Unknown"

// Cutting is one plant propagation attempt tracked by its owner.
//
// ID, OwnerID, ImageURL, CreatedAt and the analysis fields are fixed when the
// record is inserted. Only Nickname changes afterwards.
type Cutting struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Nickname     string    `json:"nickname"`
	ImageURL     string    `json:"imageUrl"`
	SuccessRate  int       `json:"successRate"` // 0–100, from the inference service
	HealthStatus string    `json:"healthStatus"`
	Species      string    `json:"species,omitempty"`
	Feedback     string    `json:"feedback,omitempty"` // free-text notes returned with the analysis
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SuccessBand buckets a success rate the way the dashboard colours it.
func SuccessBand(rate int) string {
	switch {
	case rate >= 75:
		return "high"
	case rate >= 40:
		return "medium"
	default:
		return "low"
	}
}
