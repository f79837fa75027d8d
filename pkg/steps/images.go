package steps

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"path"
	"path/filepath"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/poltergeist/wisp/pkg/pipeline"
	"github.com/poltergeist/wisp/pkg/types"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

// Images optimizes PNG, JPEG and SVG images and copies everything else.
// Truecolor PNGs are reduced to a dithered palette unless quantizePng is off.
// Optimized bytes are only kept when they are smaller than the source.
// Hidden files such as .keep are ignored.
type Images struct {
	env      Env
	minifier *minify.M
}

// NewImages creates the image step
func NewImages(env Env) *Images {
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return &Images{env: env, minifier: m}
}

// Name implements Step
func (i *Images) Name() types.StepName { return types.StepImages }

// Enabled implements Step
func (i *Images) Enabled() bool { return true }

// Run implements Step
func (i *Images) Run(ctx context.Context) (*Report, error) {
	log := i.env.log(i.Name())
	cfg := i.env.Config

	files, err := pipeline.Source(i.env.Root, cfg.Paths.Src.Img)
	if err != nil {
		return &Report{}, err
	}

	outDir := i.env.Abs(cfg.Paths.Build.Img)
	destFor := func(f *pipeline.File) string {
		return filepath.Join(outDir, filepath.FromSlash(f.Rel))
	}

	p := pipeline.New(string(i.Name())).
		Then("visible", pipeline.Filter(func(f *pipeline.File) bool {
			return !strings.HasPrefix(path.Base(f.Rel), ".")
		})).
		Then("newer", pipeline.Newer(destFor)).
		Then("optimize", pipeline.Map(i.optimize)).
		Then("size", pipeline.Size(sizeReporter(log, "Images"))).
		Then("dest", pipeline.Dest(outDir))

	_, stats, err := p.Run(ctx, files)
	if err != nil {
		log.Error(err.Error())
	}
	return reportFrom(stats), err
}

func (i *Images) optimize(_ context.Context, f *pipeline.File) (*pipeline.File, error) {
	var (
		out []byte
		err error
	)

	switch strings.ToLower(f.Ext()) {
	case ".png":
		out, err = i.png(f.Contents)
	case ".jpg", ".jpeg":
		out, err = i.jpeg(f.Contents)
	case ".svg":
		out, err = i.minifier.Bytes("image/svg+xml", f.Contents)
	default:
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	if len(out) < len(f.Contents) {
		optimized := f.Clone()
		optimized.Contents = out
		return optimized, nil
	}
	return f, nil
}

func (i *Images) png(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if opts := i.env.Config.Steps.Images; opts.QuantizePNG {
		img = Quantize(img, opts.PNGColors)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (i *Images) jpeg(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: i.env.Config.Steps.Images.JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Quantize maps img onto a median cut palette of at most colors entries
// with Floyd-Steinberg dithering. Paletted images are returned unchanged.
func Quantize(img image.Image, colors int) image.Image {
	if _, ok := img.(*image.Paletted); ok {
		return img
	}
	if colors < 2 || colors > 256 {
		colors = 256
	}
	q := quantize.MedianCutQuantizer{}
	palette := q.Quantize(make(color.Palette, 0, colors), img)
	if len(palette) == 0 {
		return img
	}
	bounds := img.Bounds()
	out := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(out, bounds, img, bounds.Min)
	return out
}
