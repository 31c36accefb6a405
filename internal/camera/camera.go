// Package camera captures an annotated still from the board camera.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os/exec"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const jpegQuality = 85

type Options struct {
	Command  string // libcamera-still compatible CLI
	Width    int
	Height   int
	Rotation int // degrees clockwise
	WarmUpMS int64
}

// Runner executes the capture command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

type Camera struct {
	opts Options
	run  Runner
}

func New(opts Options) *Camera {
	return NewWithRunner(opts, execRunner)
}

func NewWithRunner(opts Options, run Runner) *Camera {
	return &Camera{opts: opts, run: run}
}

// Args builds the capture command line. The timeout doubles as warm-up:
// the sensor settles exposure before the frame is taken.
func (c *Camera) Args() []string {
	return []string{
		"--nopreview",
		"-t", strconv.FormatInt(c.opts.WarmUpMS, 10),
		"--width", strconv.Itoa(c.opts.Width),
		"--height", strconv.Itoa(c.opts.Height),
		"--encoding", "jpg",
		"-o", "-",
	}
}

// Capture takes one frame, rotates it and burns the annotation in.
// The result is JPEG bytes.
func (c *Camera) Capture(ctx context.Context, annotation string) ([]byte, error) {
	raw, err := c.run(ctx, c.opts.Command, c.Args()...)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	out := Annotate(Rotate(img, c.opts.Rotation), annotation)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Rotate turns img clockwise by deg degrees.
func Rotate(img image.Image, deg int) image.Image {
	deg = ((deg % 360) + 360) % 360
	switch deg {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	}
	// imaging rotates counter-clockwise
	return imaging.Rotate(img, float64(360-deg), color.Black)
}

// Annotate draws text in white on a black band along the top edge.
func Annotate(img image.Image, text string) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if text == "" {
		return dst
	}

	face := basicfont.Face7x13
	const pad = 4
	width := font.MeasureString(face, text).Ceil() + 2*pad
	if width > b.Dx() {
		width = b.Dx()
	}
	height := face.Metrics().Height.Ceil() + 2*pad
	band := image.Rect((b.Dx()-width)/2, 0, (b.Dx()-width)/2+width, height)
	draw.Draw(dst, band, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(band.Min.X+pad, band.Min.Y+pad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return dst
}
