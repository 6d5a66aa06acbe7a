package pixel

import (
	"net/url"
	"regexp"
	"strings"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// NormalizeColor validates a #RRGGBB hex color and returns its upper-case form.
func NormalizeColor(c string) (string, bool) {
	if !colorPattern.MatchString(c) {
		return "", false
	}
	return strings.ToUpper(c), true
}

// hostSchemes must carry an authority; other absolute URLs such as
// mailto: or urn: are accepted without one.
var hostSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"ftp":   true,
}

// ValidLink reports whether s parses as an absolute URL.
func ValidLink(s string) bool {
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return false
	}
	if hostSchemes[strings.ToLower(u.Scheme)] {
		return u.Host != ""
	}
	return u.Opaque != "" || u.Path != "" || u.Host != ""
}

// InBounds reports whether pos lies on a width x height grid.
func InBounds(pos Position, width, height int) bool {
	return pos.X >= 0 && pos.X < width && pos.Y >= 0 && pos.Y < height
}
