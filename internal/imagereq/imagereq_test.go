package imagereq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Resize(t *testing.T) {
	p, err := Parse("/photo_100_200.jpg", "")
	require.NoError(t, err)

	assert.Equal(t, Params{
		ID:     "photo",
		Width:  100,
		Height: 200,
		Fit:    FitClip,
		Ext:    "jpg",
		MIME:   "image/jpeg",
		Resize: true,
	}, p)
}

func TestParse_DensityMultipliesBothDimensions(t *testing.T) {
	p, err := Parse("/photo_100_200_2x.jpg", "")
	require.NoError(t, err)

	assert.Equal(t, 200, p.Width)
	assert.Equal(t, 400, p.Height)
	assert.True(t, p.Resize)
}

func TestParse_FitQueryOverride(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  FitMode
	}{
		{name: "exact crop query", query: "fit=crop", want: FitCrop},
		{name: "no query", query: "", want: FitClip},
		{name: "other query ignored", query: "fit=crop&x=1", want: FitClip},
		{name: "unknown value ignored", query: "fit=cover", want: FitClip},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse("/photo_100_200.jpg", tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Fit)
		})
	}
}

func TestParse_IDWithUnderscores(t *testing.T) {
	p, err := Parse("/summer_trip_04_100_200.png", "")
	require.NoError(t, err)

	assert.Equal(t, "summer_trip_04", p.ID)
	assert.Equal(t, 100, p.Width)
	assert.Equal(t, 200, p.Height)
	assert.Equal(t, "image/png", p.MIME)
}

func TestParse_Original(t *testing.T) {
	p, err := Parse("/photo.JPEG", "")
	require.NoError(t, err)

	assert.Equal(t, "photo", p.ID)
	assert.Equal(t, "jpeg", p.Ext)
	assert.Equal(t, "image/jpeg", p.MIME)
	assert.False(t, p.Resize)
	assert.Zero(t, p.Width)
}

func TestParse_ExtensionTable(t *testing.T) {
	for ext, mime := range map[string]string{
		"jpg": "image/jpeg", "jpeg": "image/jpeg",
		"jfif": "image/jpeg", "jpe": "image/jpeg",
		"png": "image/png",
	} {
		p, err := Parse("/pic_10_10."+ext, "")
		require.NoError(t, err)
		assert.Equal(t, mime, p.MIME)
	}
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse("/photo_100_200.bmp", "")
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)

	_, err = Parse("/photo.gif", "")
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
}

func TestParse_InvalidShape(t *testing.T) {
	for _, path := range []string{"/", "/noextension", "/healthcheck"} {
		_, err := Parse(path, "")
		assert.ErrorIs(t, err, ErrInvalidRequest, path)
	}
}

func TestParse_ZeroDensityRejected(t *testing.T) {
	_, err := Parse("/photo_100_200_0x.jpg", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClamp_WidthOnly(t *testing.T) {
	c := Constraints{MaxWidth: 50, MaxHeight: 500}

	p, err := Parse("/photo_100_200.jpg", "")
	require.NoError(t, err)

	clamped, redirect := c.Clamp(p)
	assert.True(t, redirect)
	assert.Equal(t, 50, clamped.Width)
	assert.Equal(t, 200, clamped.Height)
	assert.Equal(t, "/photo_50_200.jpg", CanonicalPath(clamped))
}

func TestClamp_BothAxesIndependently(t *testing.T) {
	c := Constraints{MaxWidth: 50, MaxHeight: 60}

	p, _ := Parse("/photo_100_200.jpg", "")
	clamped, redirect := c.Clamp(p)

	assert.True(t, redirect)
	assert.Equal(t, 50, clamped.Width)
	assert.Equal(t, 60, clamped.Height)
}

func TestClamp_WithinBounds(t *testing.T) {
	c := Constraints{MaxWidth: 500, MaxHeight: 500}

	p, _ := Parse("/photo_100_200.jpg", "")
	clamped, redirect := c.Clamp(p)

	assert.False(t, redirect)
	assert.Equal(t, p, clamped)
}

func TestClamp_DensityRequestRedirectsToAbsoluteDimensions(t *testing.T) {
	c := Constraints{MaxWidth: 150, MaxHeight: 500}

	p, err := Parse("/photo_100_200_2x.jpg", "")
	require.NoError(t, err)

	clamped, redirect := c.Clamp(p)
	assert.True(t, redirect)
	// The rebuilt path carries absolute dimensions, no density suffix.
	assert.Equal(t, "/photo_150_400.jpg", CanonicalPath(clamped))
}
