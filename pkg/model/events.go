package model

import "time"

// Event is the envelope browser events are delivered in.
type Event struct {
	ID      string       `json:"id"`
	Time    time.Time    `json:"time"`
	Payload BrowserEvent `json:"payload"`
}

// ErrorKind classifies BrowserError events.
type ErrorKind string

const (
	TargetCrash           ErrorKind = "TargetCrash"
	BrowserProcessCrashed ErrorKind = "BrowserProcessCrashed"
)

// BrowserEvent is the closed set of lifecycle events carried on the bus.
type BrowserEvent interface {
	browserEvent()
}

type BrowserConnected struct {
	DevToolsURL string
}

type BrowserStopped struct{}

type TabCreated struct {
	Target TargetID
	URL    string
}

type BrowserError struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
}

func (BrowserConnected) browserEvent() {}
func (BrowserStopped) browserEvent()   {}
func (TabCreated) browserEvent()       {}
func (BrowserError) browserEvent()     {}
