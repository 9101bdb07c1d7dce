package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Engine renders transforms by shelling out to ImageMagick. The binary
// is probed once at construction: the modern `magick convert` entry
// point is preferred, with plain `convert` as the fallback for older
// installations.
type Engine struct {
	binary []string
}

func NewEngine() (*Engine, error) {
	commands := [][]string{{"magick", "convert", "-version"}, {"convert", "-version"}}

	for _, command := range commands {
		_, err := exec.Command(command[0], command[1:]...).Output()
		if err != nil {
			log.Debug().Strs("command", command).Msg("imagemagick binary not found")
			continue
		}

		log.Debug().Strs("command", command).Msg("imagemagick binary found")
		return &Engine{binary: command[:len(command)-1]}, nil
	}

	return nil, errors.New("imagemagick binary not available")
}

// formatFor maps a content type to ImageMagick's output format token.
func formatFor(mime string) string {
	if mime == "image/png" {
		return "png"
	}
	return "jpeg"
}

// Dimensions probes the pixel size of a source image with orientation
// metadata applied, so the returned values match what a viewer sees.
func (e *Engine) Dimensions(ctx context.Context, path string) (int, int, error) {
	args := append(append([]string{}, e.binary...), path, "-auto-orient", "-format", "%w %h", "info:")

	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: probing %s: %v", ErrTransformFailure, path, err)
	}

	var width, height int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d %d", &width, &height); err != nil {
		return 0, 0, fmt.Errorf("%w: unreadable dimensions %q", ErrTransformFailure, out)
	}

	return width, height, nil
}

// Render executes a planned geometry against a source file, writing
// the encoded result to out. Orientation is normalized before the
// geometry applies. The caller owns out: when it is an HTTP response
// the status may already be committed, so partial output on failure is
// not rolled back.
func (e *Engine) Render(ctx context.Context, path string, g Geometry, mime string, out io.Writer) error {
	args := append(append([]string{}, e.binary...), path, "-auto-orient",
		"-resize", fmt.Sprintf("%dx%d!", g.ResizeWidth, g.ResizeHeight))
	if g.Crop {
		args = append(args,
			"-crop", fmt.Sprintf("%dx%d+%d+%d", g.CropWidth, g.CropHeight, g.OffsetX, g.OffsetY),
			"+repage")
	}
	args = append(args, formatFor(mime)+":-")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: rendering %s: %v: %s", ErrTransformFailure, path, err, stderr.String())
	}

	return nil
}

// RenderBuffer runs the same transform as Render but captures the full
// artifact in memory, for handoff to cache population.
func (e *Engine) RenderBuffer(ctx context.Context, path string, g Geometry, mime string) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Render(ctx, path, g, mime, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Normalize rewrites an image with orientation metadata applied,
// encoding it as the format for mime regardless of the destination
// path's extension (originals are stored without one).
func (e *Engine) Normalize(ctx context.Context, src, dst, mime string) error {
	args := append(append([]string{}, e.binary...), src, "-auto-orient", formatFor(mime)+":"+dst)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("normalizing %s: %w: %s", src, err, stderr.String())
	}

	return nil
}
