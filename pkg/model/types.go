package model

type SessionID string
type TargetID string
type RequestID string

type TargetInfo struct {
	ID      TargetID `json:"id"`
	Type    string   `json:"type"`
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Focused bool     `json:"focused"`
}
