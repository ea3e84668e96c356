package htmlshot

import (
	"strconv"
	"strings"
	"time"

	"github.com/porticus-lab/go-html-shot/device"
)

// descriptorTime is the layout of the timestamp segment, always in UTC.
const descriptorTime = "2006-01-02 15:04:05"

// Describe builds the text embedded into a capture of r rendered with p at
// time at. It starts with r.Watermark and the timestamp and lists only the
// request features that apply, for example:
//
//	run-42 | 2025-01-02 03:04:05 | URL:https://example.com | UA:Chrome 114.0.0.0 | Wait:load
//
// Describe returns "" when r.Watermark is empty.
func Describe(r Request, p device.Profile, at time.Time) string {
	if r.Watermark == "" {
		return ""
	}
	parts := []string{r.Watermark, at.UTC().Format(descriptorTime)}
	if r.URL != "" {
		parts = append(parts, "URL:"+r.URL)
	}
	if r.HTML != "" {
		parts = append(parts, "HTML")
	}
	switch {
	case r.Device != "":
		parts = append(parts, "Device:"+r.Device)
	case r.Profile != nil && r.Profile.Name != "":
		parts = append(parts, "Device:"+r.Profile.Name)
	}
	if ua := p.Browser(); ua != "" {
		parts = append(parts, "UA:"+ua)
	}
	parts = append(parts, "Wait:"+r.Wait.String())
	if r.TrimColor != "" {
		parts = append(parts, "Trim:#"+r.TrimColor)
	}
	if n := len(r.Cookies); n > 0 {
		parts = append(parts, "Cookies:"+strconv.Itoa(n))
	}
	if r.Script != "" {
		parts = append(parts, "JS:true")
	}
	return strings.Join(parts, " | ")
}
