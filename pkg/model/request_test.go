package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsAPICall(t *testing.T) {
	cases := []struct {
		name         string
		resourceType string
		contentType  string
		want         bool
	}{
		{"xhr", "XHR", "", true},
		{"fetch", "Fetch", "", true},
		{"json document", "Document", "application/json", true},
		{"json with charset", "Other", "application/json; charset=utf-8", true},
		{"html document", "Document", "text/html", false},
		{"image", "Image", "image/png", false},
		{"no response yet", "Other", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &RequestRecord{ResourceType: tc.resourceType}
			if tc.contentType != "" {
				rec.ResponseHeaders = Headers{}
				rec.ResponseHeaders.Set("Content-Type", tc.contentType)
			}
			assert.Equal(t, tc.want, rec.IsAPICall())
		})
	}
}

func TestIsUIResource(t *testing.T) {
	for _, rt := range []string{"Document", "Stylesheet", "Script", "Image", "Font"} {
		rec := &RequestRecord{ResourceType: rt}
		assert.True(t, rec.IsUIResource(), rt)
	}
	assert.False(t, (&RequestRecord{ResourceType: "XHR"}).IsUIResource())
	assert.False(t, (&RequestRecord{ResourceType: "Other"}).IsUIResource())
}

func TestDuration(t *testing.T) {
	start := time.Now()
	rec := &RequestRecord{StartTime: start}
	assert.Equal(t, time.Duration(0), rec.Duration())

	rec.EndTime = start.Add(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, rec.Duration())
}

func TestIsUserTriggered(t *testing.T) {
	cases := []struct {
		trigger string
		want    bool
	}{
		{"User interaction (handleclick)", true},
		{"Event handler (onsubmit)", true},
		{"Form submission", true},
		{"Search/Filter action", true},
		{"AJAX call", false},
		{"Browser initiated", false},
		{"Page parsing (HTML/CSS)", false},
		{"", false},
	}
	for _, tc := range cases {
		rec := &RequestRecord{Trigger: tc.trigger}
		assert.Equal(t, tc.want, rec.IsUserTriggered(), tc.trigger)
	}
}

func TestHeadersCaseInsensitive(t *testing.T) {
	h := Headers{}
	h.Set("Content-Type", "application/json")

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))

	h.Del("Content-Type")
	assert.Equal(t, "", h.Get("content-type"))

	var nilHeaders Headers
	assert.Equal(t, "", nilHeaders.Get("anything"))
}
