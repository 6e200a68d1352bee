package browser

import "strings"

// Device is a viewport and user agent profile applied to a new session.
type Device struct {
	Name      string
	Width     int64
	Height    int64
	Scale     float64
	Mobile    bool
	Touch     bool
	UserAgent string
}

// IsZero reports whether d is the unset device.
func (d Device) IsZero() bool { return d.Width == 0 && d.Height == 0 }

var (
	Desktop = Device{
		Name:   "Desktop",
		Width:  1920,
		Height: 1080,
		Scale:  1,
	}

	IPhoneSE = Device{
		Name:      "iPhone SE",
		Width:     375,
		Height:    667,
		Scale:     2,
		Mobile:    true,
		Touch:     true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	}

	IPad = Device{
		Name:      "iPad",
		Width:     768,
		Height:    1024,
		Scale:     2,
		Mobile:    true,
		Touch:     true,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 12_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.4 Mobile/15E148 Safari/604.1",
	}
)

// Devices lists the built-in presets.
func Devices() []Device {
	return []Device{Desktop, IPhoneSE, IPad}
}

// LookupDevice finds a preset by case-insensitive name.
func LookupDevice(name string) (Device, bool) {
	for _, d := range Devices() {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Device{}, false
}
