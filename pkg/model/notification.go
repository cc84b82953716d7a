package model

import "time"

// Notification is the closed set of network lifecycle notifications. Protocol
// payloads are decoded into these variants once, at the adapter boundary;
// consumers switch over the concrete types.
type Notification interface {
	notification()
}

type RequestSent struct {
	RequestID    RequestID
	URL          string
	Method       string
	ResourceType string
	Initiator    Initiator
	Time         time.Time
}

type ResponseReceived struct {
	RequestID RequestID
	Status    int
	MimeType  string
	Headers   Headers
}

type LoadingFailed struct {
	RequestID RequestID
	Reason    string
	Canceled  bool
}

type LoadingFinished struct {
	RequestID RequestID
	Size      int64
}

func (RequestSent) notification()      {}
func (ResponseReceived) notification() {}
func (LoadingFailed) notification()    {}
func (LoadingFinished) notification()  {}
