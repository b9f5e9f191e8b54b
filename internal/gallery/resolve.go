package gallery

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/atinyakov/buildsite/internal/models"
)

// Variant selects which rendition of an image to display.
type Variant int

const (
	// Full is the original upload.
	Full Variant = iota
	// Thumbnail is the backend-generated small rendition.
	Thumbnail
)

// Unavailable is returned when no URL can be formed for an image; the UI
// shows a placeholder instead and does not retry.
const Unavailable = ""

// ResolveDisplayURL picks a displayable URL for img without any network
// access. origin is the public storage origin relative paths live under.
//
// Thumbnail: absolute ThumbnailURL, then origin+ThumbnailPath, then the full
// rendition. Full: absolute URL, then origin+Path, then
// origin+"projects/{project}/"+Filename.
func ResolveDisplayURL(origin string, img models.Image, v Variant) string {
	if v == Thumbnail {
		if isAbsolute(img.ThumbnailURL) {
			return img.ThumbnailURL
		}
		if u := join(origin, img.ThumbnailPath); u != "" {
			return u
		}
	}

	if isAbsolute(img.URL) {
		return img.URL
	}
	if u := join(origin, img.Path); u != "" {
		return u
	}
	if img.Filename != "" && img.ProjectID != 0 {
		return join(origin, "projects/"+strconv.FormatInt(img.ProjectID, 10)+"/"+img.Filename)
	}
	return Unavailable
}

func isAbsolute(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func join(origin, rel string) string {
	rel = strings.TrimLeft(strings.TrimSpace(rel), "/")
	if rel == "" || origin == "" {
		return ""
	}
	return strings.TrimRight(origin, "/") + "/" + rel
}
