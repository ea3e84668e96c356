package htmlshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/porticus-lab/go-html-shot/device"
)

var fixedTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		prof device.Profile
		want string
	}{
		{
			name: "no tag",
			req:  Request{URL: "https://example.com"},
			prof: device.Desktop,
			want: "",
		},
		{
			name: "html defaults",
			req:  Request{HTML: "<p>x</p>", Watermark: "run-42"},
			prof: device.Desktop,
			want: "run-42 | 2025-01-02 03:04:05 | HTML | UA:Chrome 114.0.0.0 | Wait:load",
		},
		{
			name: "everything",
			req: Request{
				URL:       "https://example.com",
				Wait:      WaitMillis(1500),
				TrimColor: "fff",
				Device:    "iPhone X",
				Cookies:   []Cookie{{Name: "a"}, {Name: "b"}},
				Script:    "1+1",
				Watermark: "tag",
			},
			prof: device.Resolve("iPhone X"),
			want: "tag | 2025-01-02 03:04:05 | URL:https://example.com | Device:iPhone X | UA:Safari 604.1 | Wait:1500ms | Trim:#fff | Cookies:2 | JS:true",
		},
		{
			name: "explicit profile without user agent",
			req:  Request{URL: "https://example.com", Wait: WaitNetworkIdle, Profile: &device.Profile{Name: "kiosk"}, Watermark: "t"},
			prof: device.Profile{Name: "kiosk"},
			want: "t | 2025-01-02 03:04:05 | URL:https://example.com | Device:kiosk | Wait:networkidle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.req, tt.prof, fixedTime))
		})
	}
}

func TestDescribe_UsesUTC(t *testing.T) {
	at := time.Date(2025, 1, 2, 12, 0, 0, 0, time.FixedZone("UTC+9", 9*3600))
	got := Describe(Request{HTML: "x", Watermark: "w"}, device.Profile{}, at)
	assert.Equal(t, "w | 2025-01-02 03:00:00 | HTML | Wait:load", got)
}
