package imagereq

// Constraints holds the maximum geometry the service will synthesize.
type Constraints struct {
	MaxWidth  int
	MaxHeight int
}

// RedirectInfo is the explanatory header value sent with a clamped
// geometry redirect.
const RedirectInfo = "The requested image size falls outside of the allowed boundaries of this service. We are directing you to the closest available match."

// Clamp bounds the requested dimensions independently per axis. It
// returns the (possibly adjusted) parameters and whether any dimension
// was clamped, in which case the caller must redirect to
// CanonicalPath(clamped) instead of transforming. Aspect ratio is
// deliberately not preserved here; fit handling happens later in the
// transform geometry.
func (c Constraints) Clamp(p Params) (Params, bool) {
	clamped := false
	if p.Width > c.MaxWidth {
		p.Width = c.MaxWidth
		clamped = true
	}
	if p.Height > c.MaxHeight {
		p.Height = c.MaxHeight
		clamped = true
	}
	return p, clamped
}
