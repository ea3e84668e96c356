// Package device describes the rendering parameters a page is captured with
// and ships a catalog of named device profiles.
package device

import (
	"maps"
	"net/http"
	"regexp"
	"slices"

	"github.com/go-json-experiment/json"
)

// Default viewport used when a profile leaves the size unset.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Profile holds the emulation parameters applied to every page opened for it.
//
// Two profiles with the same parameters share a browsing context in the pool,
// regardless of Name or of the order in which Headers were filled.
type Profile struct {
	// Name is informational and does not take part in Key.
	Name string `json:"-"`

	UserAgent         string            `json:"userAgent,omitempty"`
	Width             int               `json:"width,omitzero"`
	Height            int               `json:"height,omitzero"`
	DeviceScaleFactor float64           `json:"deviceScaleFactor,omitzero"`
	IsMobile          bool              `json:"isMobile,omitzero"`
	HasTouch          bool              `json:"hasTouch,omitzero"`
	Locale            string            `json:"locale,omitempty"`
	TimezoneID        string            `json:"timezoneId,omitempty"`
	ColorScheme       string            `json:"colorScheme,omitempty"`
	Headers           map[string]string `json:"extraHTTPHeaders,omitempty"`
}

// Normalized returns a copy with defaults filled in and header names in
// canonical form. When names differ only in case, the value of the
// bytewise greatest original name wins. The copy shares nothing with p.
func (p Profile) Normalized() Profile {
	n := p
	if n.Width <= 0 {
		n.Width = DefaultWidth
	}
	if n.Height <= 0 {
		n.Height = DefaultHeight
	}
	if n.DeviceScaleFactor <= 0 {
		n.DeviceScaleFactor = 1
	}
	n.Headers = nil
	if len(p.Headers) > 0 {
		n.Headers = make(map[string]string, len(p.Headers))
		for _, k := range slices.Sorted(maps.Keys(p.Headers)) {
			n.Headers[http.CanonicalHeaderKey(k)] = p.Headers[k]
		}
	}
	return n
}

// Key returns the canonical identity of the profile. Profiles that are
// structurally equal after normalization always yield the same key.
func (p Profile) Key() string {
	b, err := json.Marshal(p.Normalized(), json.Deterministic(true))
	if err != nil {
		// Every field is a plain scalar or a string map.
		panic("device: marshaling profile: " + err.Error())
	}
	return string(b)
}

// Equal reports whether p and q resolve to the same key.
func (p Profile) Equal(q Profile) bool {
	return p.Key() == q.Key()
}

var browserRe = regexp.MustCompile(`(Chrome|Firefox|Safari|Edg)/([\d.]+)`)

// Browser extracts the first "Name version" pair from the user agent, for
// example "Chrome 114.0.0.0". It returns "" when the agent names no known
// browser.
func (p Profile) Browser() string {
	m := browserRe.FindStringSubmatch(p.UserAgent)
	if m == nil {
		return ""
	}
	return m[1] + " " + m[2]
}
