// Package imagereq interprets inbound image request paths into transform
// parameters and applies the configured geometry constraints.
package imagereq

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRequest marks a path that matches none of the known
	// request shapes.
	ErrInvalidRequest = errors.New("request path does not match a known shape")

	// ErrUnsupportedMediaType marks an extension outside the supported
	// JPEG/PNG family.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// FitMode reconciles a requested aspect ratio with the source's.
type FitMode string

const (
	// FitClip resizes non-uniformly to the exact target dimensions.
	FitClip FitMode = "clip"

	// FitCrop resizes uniformly to cover the target, then crops the
	// overflow centered.
	FitCrop FitMode = "crop"
)

// Params are the transform parameters derived from a single request.
// They are request-scoped and never persisted.
type Params struct {
	ID     string
	Width  int
	Height int
	Fit    FitMode

	// Ext is the lower-cased extension as requested, used to rebuild
	// canonical paths. MIME is its mapped content type.
	Ext  string
	MIME string

	// Resize is false for an original-passthrough request, which carries
	// no geometry.
	Resize bool
}

// resizePattern matches /<id>_<W>_<H>.<ext> with an optional _<D>x
// density suffix. The id segment is greedy so ids containing
// underscores still parse.
var resizePattern = regexp.MustCompile(`^/(.*)_(\d+)_(\d+)(?:_(\d+)x)?\.(.*)$`)

// originalPattern matches /<id>.<ext>, a request for the unmodified
// source image.
var originalPattern = regexp.MustCompile(`^/(.*)\.([^.]+)$`)

// MIMEForExtension maps a lower-cased file extension to its content
// type. The supported set is fixed: the JPEG family and PNG.
func MIMEForExtension(ext string) (string, bool) {
	switch ext {
	case "jpg", "jpeg", "jfif", "jpe":
		return "image/jpeg", true
	case "png":
		return "image/png", true
	default:
		return "", false
	}
}

// CanonicalExtension returns the extension used when building object
// store keys for a content type.
func CanonicalExtension(mime string) string {
	if mime == "image/png" {
		return "png"
	}
	return "jpg"
}

// Parse interprets a request path and raw query string into transform
// parameters. Resize shapes are tried first, the bare original shape
// last. A query of exactly "fit=crop" switches resize requests to crop;
// any other query is ignored.
func Parse(path, rawQuery string) (Params, error) {
	if m := resizePattern.FindStringSubmatch(path); m != nil {
		return parseResize(m, rawQuery)
	}

	return ParseOriginal(path)
}

// ParseOriginal interprets a path as a bare /<id>.<ext> reference to a
// source image, the shape used by original passthrough and by uploads.
func ParseOriginal(path string) (Params, error) {
	m := originalPattern.FindStringSubmatch(path)
	if m == nil {
		return Params{}, fmt.Errorf("%w: %s", ErrInvalidRequest, path)
	}

	ext := strings.ToLower(m[2])
	mime, ok := MIMEForExtension(ext)
	if !ok {
		return Params{}, fmt.Errorf("%w: .%s", ErrUnsupportedMediaType, ext)
	}
	return Params{ID: m[1], Ext: ext, MIME: mime}, nil
}

func parseResize(m []string, rawQuery string) (Params, error) {
	ext := strings.ToLower(m[5])
	mime, ok := MIMEForExtension(ext)
	if !ok {
		return Params{}, fmt.Errorf("%w: .%s", ErrUnsupportedMediaType, ext)
	}

	// The pattern only admits digits, so these cannot fail.
	width, _ := strconv.Atoi(m[2])
	height, _ := strconv.Atoi(m[3])

	if m[4] != "" {
		density, _ := strconv.Atoi(m[4])
		if density < 1 {
			return Params{}, fmt.Errorf("%w: density factor %d", ErrInvalidRequest, density)
		}
		width *= density
		height *= density
	}

	fit := FitClip
	if rawQuery == "fit=crop" {
		fit = FitCrop
	}

	return Params{
		ID:     m[1],
		Width:  width,
		Height: height,
		Fit:    fit,
		Ext:    ext,
		MIME:   mime,
		Resize: true,
	}, nil
}

// CanonicalPath rebuilds the request path for a set of resize
// parameters. Clamped dimensions are expressed absolutely: a density
// suffix present in the incoming request is not reconstructed.
func CanonicalPath(p Params) string {
	return fmt.Sprintf("/%s_%d_%d.%s", p.ID, p.Width, p.Height, p.Ext)
}
