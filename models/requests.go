package models

import "encoding/json"

// API Request/Response structures

// CreateChunkRequest for adding a chunk to a parent's region
type CreateChunkRequest struct {
	Region   string          `json:"region"`
	Kind     Kind            `json:"kind"`
	Position int             `json:"position,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Template string          `json:"template,omitempty"`
}

// MoveChunkRequest mirrors the admin move form: pk, position and an optional region
type MoveChunkRequest struct {
	PK       int64  `json:"pk"`
	Position int    `json:"position"`
	Region   string `json:"region,omitempty"`
	Template string `json:"template,omitempty"`
}

// ConsolidateRequest asks for a renumbering pass over one region
type ConsolidateRequest struct {
	Parent ParentRef `json:"parent"`
	Region string    `json:"region"`
}
