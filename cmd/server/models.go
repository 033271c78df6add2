package main

import "time"

// API request bodies.

// snapshotRequest is one entity snapshot update. ObservedAt defaults to
// the server clock when omitted.
type snapshotRequest struct {
	EntityType string         `json:"entityType" example:"supplier"`
	EntityID   string         `json:"entityId" example:"SUP-001"`
	Fields     map[string]any `json:"fields"`
	ObservedAt time.Time      `json:"observedAt,omitempty" example:"2024-01-15T10:30:00Z"`
}

// transitionRequest applies a lifecycle action to an exception. For the
// assign action, reason carries the assignee.
type transitionRequest struct {
	Action string `json:"action" example:"startProcessing"`
	Actor  string `json:"actor" example:"ops-alice"`
	Reason string `json:"reason,omitempty" example:"root cause identified"`
}
