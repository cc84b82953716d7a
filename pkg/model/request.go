package model

import (
	"strings"
	"time"
)

// Initiator describes what the browser reports as the cause of a request.
type Initiator struct {
	Type   string      `json:"type"`
	URL    string      `json:"url,omitempty"`
	Frames []CallFrame `json:"frames,omitempty"`
}

type CallFrame struct {
	Function string `json:"function"`
	URL      string `json:"url"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// ElementBox is the page-coordinate box of the element a request was
// attributed to.
type ElementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LayoutSnapshot carries the viewport geometry used to refine section labels.
type LayoutSnapshot struct {
	ViewportWidth  float64
	ViewportHeight float64
}

// RequestRecord follows one network request from requestWillBeSent to its
// terminal loadingFinished or loadingFailed notification. Correlation labels
// are assigned once when the request is first seen; response fields are
// filled in place as later notifications arrive.
type RequestRecord struct {
	RequestID    RequestID `json:"requestId"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	ResourceType string    `json:"resourceType"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`

	Status          int     `json:"status,omitempty"`
	MimeType        string  `json:"mimeType,omitempty"`
	ResponseHeaders Headers `json:"responseHeaders,omitempty"`
	ResponseBody    string  `json:"responseBody,omitempty"`

	Failed        bool   `json:"failed"`
	FailureReason string `json:"failureReason,omitempty"`
	TransferSize  int64  `json:"transferSize"`

	Initiator Initiator `json:"initiator"`

	UISection       string      `json:"uiSection,omitempty"`
	ElementText     string      `json:"elementText,omitempty"`
	ElementSelector string      `json:"elementSelector,omitempty"`
	Element         *ElementBox `json:"element,omitempty"`
	Trigger         string      `json:"trigger,omitempty"`
}

// IsAPICall reports whether the request reads or mutates application data
// rather than loading page assets. Resolved on read: the deciding
// content-type only arrives with the response.
func (r *RequestRecord) IsAPICall() bool {
	switch r.ResourceType {
	case "XHR", "Fetch":
		return true
	}
	return strings.HasPrefix(r.ResponseHeaders.Get("content-type"), "application/json")
}

// IsUIResource reports whether the request loads page presentation assets.
func (r *RequestRecord) IsUIResource() bool {
	switch r.ResourceType {
	case "Document", "Stylesheet", "Script", "Image", "Font":
		return true
	}
	return false
}

// Duration is zero while the request is still pending.
func (r *RequestRecord) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

var userTriggerMarks = []string{"click", "submit", "change", "input", "form submission", "search", "filter"}

// IsUserTriggered reports whether the trigger label points at a user action.
func (r *RequestRecord) IsUserTriggered() bool {
	t := strings.ToLower(r.Trigger)
	for _, m := range userTriggerMarks {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
