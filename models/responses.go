package models

import "time"

// Response structures for region queries

// RegionListing is one region of a parent with its settled chunks
type RegionListing struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	EnabledKinds map[Kind]Limit `json:"enabled_kinds,omitempty"`
	Chunks       []ChunkSummary `json:"chunks"`
}

// ChunkSummary is a chunk together with its rendered summary line
type ChunkSummary struct {
	Chunk   Chunk  `json:"chunk"`
	Summary string `json:"summary"`
}

// ParentRegions is the full region layout of a parent object
type ParentRegions struct {
	Parent   ParentRef       `json:"parent"`
	Template string          `json:"template,omitempty"`
	Regions  []RegionListing `json:"regions"`
}

// RenderedRegion holds markup fragments for a region in settled order
type RenderedRegion struct {
	Parent    ParentRef `json:"parent"`
	Region    string    `json:"region"`
	Fragments []string  `json:"fragments"`
}

// TemplateRegionsResponse describes the declared regions of a template
type TemplateRegionsResponse struct {
	Template string          `json:"template"`
	Regions  []RegionListing `json:"regions"`
}

// RegionValidationResponse reports a region name check
type RegionValidationResponse struct {
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ConsistencyReport lists every (parent, region) pair violating contiguity
type ConsistencyReport struct {
	CheckTime    time.Time    `json:"check_time"`
	PairsChecked int          `json:"pairs_checked"`
	Violations   []RegionPair `json:"violations"`
	IsHealthy    bool         `json:"is_healthy"`
}

// RepairReport summarises a consistency repair run
type RepairReport struct {
	RepairTime     time.Time     `json:"repair_time"`
	PairsRepaired  int           `json:"pairs_repaired"`
	PositionWrites int           `json:"position_writes"`
	Failed         []RegionPair  `json:"failed,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// APIError represents standardized error response
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
