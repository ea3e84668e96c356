package device

import (
	"slices"
	"strings"

	"github.com/go-rod/rod/lib/devices"
)

// DesktopName is the profile used when a request names no device or an
// unknown one.
const DesktopName = "Desktop Chrome"

// Desktop is a plain 1280×720 Chrome window.
var Desktop = Profile{
	Name:              DesktopName,
	UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
	Width:             DefaultWidth,
	Height:            DefaultHeight,
	DeviceScaleFactor: 1,
}

var catalog = []devices.Device{
	devices.IPhone4,
	devices.IPhone5orSE,
	devices.IPhone6or7or8,
	devices.IPhone6or7or8Plus,
	devices.IPhoneX,
	devices.BlackBerryZ30,
	devices.Nexus4,
	devices.Nexus5,
	devices.Nexus5X,
	devices.Nexus6,
	devices.Nexus6P,
	devices.Pixel2,
	devices.Pixel2XL,
	devices.GalaxySIII,
	devices.GalaxyS5,
	devices.GalaxyNote3,
	devices.GalaxyNoteII,
	devices.MotoG4,
	devices.IPadMini,
	devices.IPad,
	devices.IPadPro,
	devices.Nexus7,
	devices.Nexus10,
	devices.KindleFireHDX,
	devices.SurfaceDuo,
	devices.GalaxyFold,
	devices.LaptopWithTouch,
	devices.LaptopWithHiDPIScreen,
	devices.LaptopWithMDPIScreen,
}

var registry = buildRegistry()

func buildRegistry() map[string]Profile {
	m := map[string]Profile{DesktopName: Desktop}
	for _, d := range catalog {
		p := FromRod(d, false)
		m[p.Name] = p
		if p.IsMobile {
			l := FromRod(d, true)
			m[l.Name] = l
		}
	}
	return m
}

// FromRod converts a rod device descriptor into a Profile. Mobile devices
// default to portrait; landscape selects the horizontal screen and appends
// " landscape" to the name.
func FromRod(d devices.Device, landscape bool) Profile {
	mobile := slices.Contains(d.Capabilities, "mobile")
	screen := d.Screen.Horizontal
	name := d.Title
	if mobile && !landscape {
		screen = d.Screen.Vertical
	}
	if mobile && landscape {
		name += " landscape"
	}
	return Profile{
		Name:              name,
		UserAgent:         d.UserAgent,
		Width:             screen.Width,
		Height:            screen.Height,
		DeviceScaleFactor: d.Screen.DevicePixelRatio,
		IsMobile:          mobile,
		HasTouch:          slices.Contains(d.Capabilities, "touch"),
		Locale:            d.AcceptLanguage,
	}
}

// Lookup returns the named profile. Names match exactly first, then
// case-insensitively.
func Lookup(name string) (Profile, bool) {
	if p, ok := registry[name]; ok {
		return p, true
	}
	for n, p := range registry {
		if strings.EqualFold(n, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// Resolve is like Lookup but falls back to Desktop for empty or unknown
// names.
func Resolve(name string) Profile {
	if p, ok := Lookup(name); ok {
		return p
	}
	return Desktop
}

// Names returns every registered profile name in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
