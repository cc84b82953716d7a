package model

import "strings"

// Headers stores HTTP headers under lower-cased keys.
type Headers map[string]string

// Get returns the value for key, matching case-insensitively.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set stores value under the lower-cased key.
func (h Headers) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del removes key.
func (h Headers) Del(key string) {
	delete(h, strings.ToLower(key))
}
