package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which concrete content block a chunk row holds
type Kind string

const (
	KindText   Kind = "text"
	KindHTML   Kind = "html"
	KindIframe Kind = "iframe"
	KindFeed   Kind = "feed"
	KindFile   Kind = "file"
	KindSearch Kind = "search"
)

// ParentRef identifies the object owning a set of regions
type ParentRef struct {
	Type string `json:"type" db:"parent_type"`
	ID   string `json:"id" db:"parent_id"`
}

// Key returns a stable string form, used for locking and cache keys
func (p ParentRef) Key() string {
	return p.Type + ":" + p.ID
}

// IsZero reports whether the reference is unset
func (p ParentRef) IsZero() bool {
	return p.Type == "" && p.ID == ""
}

func (p ParentRef) String() string {
	return p.Key()
}

// Chunk is one ordered content block within a region of a parent
type Chunk struct {
	ID         int64           `json:"id" db:"id"`
	Parent     ParentRef       `json:"parent"`
	Region     string          `json:"region" db:"region"`
	Position   int             `json:"position" db:"position"`
	Kind       Kind            `json:"kind" db:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ModifiedAt time.Time       `json:"modified_at" db:"modified_at"`
}

// IsTransient reports whether the chunk has not been positioned yet
func (c *Chunk) IsTransient() bool {
	return c.ID == 0 || c.Position == 0
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d (%s/%s@%d)", c.ID, c.Parent.Key(), c.Region, c.Position)
}

// RegionPair is a (parent, region) combination together with its position statistics
type RegionPair struct {
	Parent            ParentRef `json:"parent"`
	Region            string    `json:"region"`
	Count             int       `json:"count"`
	MinPosition       int       `json:"min_position"`
	MaxPosition       int       `json:"max_position"`
	DistinctPositions int       `json:"distinct_positions"`
}

// IsContiguous reports whether positions are exactly 1..Count
func (p RegionPair) IsContiguous() bool {
	if p.Count == 0 {
		return true
	}
	return p.MinPosition == 1 && p.MaxPosition == p.Count && p.DistinctPositions == p.Count
}

// MoveRequest asks the reflow engine to place a chunk at a position,
// optionally in another region of the same parent
type MoveRequest struct {
	ChunkID  int64  `json:"pk"`
	Position int    `json:"position"`
	Region   string `json:"region,omitempty"`
	Template string `json:"template,omitempty"`
}

// AddRequest creates a chunk within one (parent, region) pair
type AddRequest struct {
	Parent   ParentRef       `json:"parent"`
	Region   string          `json:"region"`
	Kind     Kind            `json:"kind"`
	Position int             `json:"position,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Template string          `json:"template,omitempty"`
}

// MoveResult is the settled state of a move
type MoveResult struct {
	Chunk               Chunk   `json:"chunk"`
	SourceRegion        string  `json:"source_region"`
	CrossRegion         bool    `json:"cross_region"`
	SourceAffected      []int64 `json:"source_affected,omitempty"`
	DestinationAffected []int64 `json:"destination_affected"`
}
