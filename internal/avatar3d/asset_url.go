package avatar3d

import (
	"net/url"
	"regexp"
	"strings"
)

var imageExt = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|webp)$`)

// ResolveAssetURL turns an avatar page or render URL into a loadable .glb
// location. Ready Player Me image renders become their model URL.
func ResolveAssetURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, ".glb") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if !strings.Contains(raw, ".") {
			return raw + ".glb"
		}
		return raw
	}
	return u.Scheme + "://" + u.Host + imageExt.ReplaceAllString(u.Path, ".glb")
}
