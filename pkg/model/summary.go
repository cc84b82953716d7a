package model

import "time"

// ActivitySummary aggregates the tracker's current view of network traffic.
type ActivitySummary struct {
	Total       int     `json:"total"`
	API         int     `json:"api"`
	Failed      int     `json:"failed"`
	Active      int     `json:"active"`
	SuccessRate float64 `json:"successRate"`
}

// RequestSample is the condensed request form used in activity reports.
type RequestSample struct {
	URL     string `json:"url"`
	Method  string `json:"method"`
	Status  int    `json:"status,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

// ActivityWindow reports traffic observed during a trailing time window.
type ActivityWindow struct {
	Window        time.Duration   `json:"window"`
	Total         int             `json:"total"`
	API           int             `json:"api"`
	UserTriggered int             `json:"userTriggered"`
	Failed        int             `json:"failed"`
	UserSamples   []RequestSample `json:"userSamples,omitempty"`
	APISamples    []RequestSample `json:"apiSamples,omitempty"`
}

// SectionStats counts traffic attributed to one UI section.
type SectionStats struct {
	Total  int `json:"total"`
	API    int `json:"api"`
	Failed int `json:"failed"`
}

// SectionSummary groups observed traffic by UI section.
type SectionSummary struct {
	Sections   map[string]SectionStats `json:"sections"`
	MostActive string                  `json:"mostActive,omitempty"`
}
