package htmlshot

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/porticus-lab/go-html-shot/device"
	"github.com/porticus-lab/go-html-shot/internal/engine"
	"github.com/porticus-lab/go-html-shot/internal/imaging"
)

// WaitPolicy selects what a capture waits for after the content starts
// loading. Values above [WaitNetworkIdle] are a fixed delay in milliseconds.
type WaitPolicy int

const (
	// WaitLoad waits for the load event. It is the default.
	WaitLoad WaitPolicy = iota
	// WaitDOMReady waits until the document has been parsed.
	WaitDOMReady
	// WaitNetworkIdle waits until the network has been quiet for 500ms.
	WaitNetworkIdle
)

// WaitMillis returns a policy that sleeps for ms milliseconds. Delays of
// 2ms or less are indistinguishable from the named policies and map to them.
func WaitMillis(ms int) WaitPolicy {
	return WaitPolicy(ms)
}

// ParseWaitPolicy parses the numeric form used on the wire. Anything that is
// not a non-negative integer means [WaitLoad].
func ParseWaitPolicy(s string) WaitPolicy {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return WaitLoad
	}
	return WaitPolicy(n)
}

// UnmarshalJSON accepts the policy as a number or as a string holding one,
// so "waitFor": "2000" and "waitFor": 2000 mean the same. Strings that are
// not a non-negative integer select WaitLoad, as ParseWaitPolicy does.
func (w *WaitPolicy) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
	case string:
		*w = ParseWaitPolicy(strings.TrimSpace(v))
	case float64:
		if v < 0 {
			*w = WaitLoad
		} else {
			*w = WaitPolicy(min(v, math.MaxInt32))
		}
	default:
		return fmt.Errorf("waitFor must be a number or a string, got %s", b)
	}
	return nil
}

func (w WaitPolicy) String() string {
	switch {
	case w <= WaitLoad:
		return "load"
	case w == WaitDOMReady:
		return "dom"
	case w == WaitNetworkIdle:
		return "networkidle"
	}
	return strconv.Itoa(int(w)) + "ms"
}

// delay reports the fixed delay of a millisecond policy.
func (w WaitPolicy) delay() (time.Duration, bool) {
	if w <= WaitNetworkIdle {
		return 0, false
	}
	return time.Duration(w) * time.Millisecond, true
}

func (w WaitPolicy) loadState() engine.LoadState {
	switch w {
	case WaitDOMReady:
		return engine.DOMContentLoaded
	case WaitNetworkIdle:
		return engine.NetworkIdle
	}
	return engine.Load
}

// Cookie is set into the browsing context before content loads. A cookie
// with neither URL nor Domain is scoped to the request URL.
type Cookie = engine.Cookie

// Request describes one capture. Exactly one of URL and HTML must be set.
type Request struct {
	// URL is the page to capture.
	URL string `json:"url,omitempty"`

	// HTML is a document or fragment to render instead of a URL.
	HTML string `json:"html,omitempty"`

	// Wait selects the wait policy. Defaults to WaitLoad.
	Wait WaitPolicy `json:"waitFor,omitzero"`

	// TrimColor is a background color as 3 or 6 hex digits, with or without
	// '#'. When valid the capture is trimmed, scaled down and
	// palette-reduced. An invalid value is ignored.
	TrimColor string `json:"trimColor,omitempty"`

	// Device names a profile from the device catalog. Unknown names fall
	// back to "Desktop Chrome".
	Device string `json:"device,omitempty"`

	// Profile, when set, is used instead of Device.
	Profile *device.Profile `json:"profile,omitempty"`

	Cookies []Cookie `json:"cookies,omitempty"`

	// Script is evaluated after the wait. Promises are awaited. Failures
	// are logged and do not abort the capture.
	Script string `json:"evaluate,omitempty"`

	// Watermark, when set, embeds a descriptor starting with this tag into
	// the image.
	Watermark string `json:"watermark,omitempty"`
}

// resolved validates r and returns a copy with the trim color normalized
// (lower case, no '#', empty when invalid) and cookies scoped.
func (r *Request) resolved() (Request, error) {
	if r == nil || (r.URL == "" && r.HTML == "") {
		return Request{}, ErrMissingTarget
	}
	if r.URL != "" && r.HTML != "" {
		return Request{}, ErrConflictingTarget
	}
	if r.URL != "" {
		if _, err := url.ParseRequestURI(r.URL); err != nil {
			return Request{}, &ValidationError{Field: "url", Reason: "invalid URL " + strconv.Quote(r.URL), Err: err}
		}
	}

	out := *r
	out.TrimColor = strings.ToLower(strings.TrimPrefix(r.TrimColor, "#"))
	if _, ok := imaging.ParseHexColor(out.TrimColor); !ok {
		out.TrimColor = ""
	}
	if len(r.Cookies) > 0 {
		out.Cookies = make([]Cookie, len(r.Cookies))
		for i, c := range r.Cookies {
			if c.URL == "" && c.Domain == "" {
				c.URL = r.URL
			}
			out.Cookies[i] = c
		}
	}
	return out, nil
}

// profile returns the device profile the request renders with.
func (r *Request) profile() device.Profile {
	if r.Profile != nil {
		return *r.Profile
	}
	return device.Resolve(r.Device)
}
