package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type ImageProcessor interface {
	Transcode(ctx context.Context, src entity.ImageSource, spec entity.TargetSpec) (*image.NRGBA, error)
	Encode(img image.Image, spec entity.TargetSpec) (*entity.EncodedPayload, error)
	EncodeCompressed(img image.Image, qualityCeiling, sizeCeiling int) (*entity.EncodedPayload, error)
	EncodeRaw16(img image.Image, order entity.ByteOrder) *entity.EncodedPayload
	EncodePreview(img image.Image) ([]byte, error)
}

// DefaultMaxSourcePixels bounds the decoded raster to 40 megapixels.
const DefaultMaxSourcePixels = 40_000_000

type imageProcessor struct {
	maxSourcePixels int64
}

// NewImageProcessor returns a processor refusing sources larger than
// maxSourcePixels. Zero or less selects DefaultMaxSourcePixels.
func NewImageProcessor(maxSourcePixels int64) ImageProcessor {
	if maxSourcePixels <= 0 {
		maxSourcePixels = DefaultMaxSourcePixels
	}
	return &imageProcessor{maxSourcePixels: maxSourcePixels}
}

// Transcode turns src into an image of exactly spec.Width x spec.Height.
// The source is probed first so the decoded copy can be shrunk by a power of two
// before orientation is fixed and the final stretch is applied.
func (p *imageProcessor) Transcode(ctx context.Context, src entity.ImageSource, spec entity.TargetSpec) (*image.NRGBA, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", entity.ErrInvalidSpec, spec.Width, spec.Height)
	}

	data, err := entity.ReadSource(src)
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &entity.TranscodeError{Op: "probe", Err: err}
	}
	// the full raster is built before any downsampling
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxSourcePixels {
		return nil, &entity.TranscodeError{
			Op:  "probe",
			Err: fmt.Errorf("%w: %dx%d exceeds %d pixels", entity.ErrSourceTooLarge, cfg.Width, cfg.Height, p.maxSourcePixels),
		}
	}
	factor := DownsampleFactor(cfg.Width, cfg.Height, spec.Width, spec.Height)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := decodeScaled(data, cfg, factor)
	if err != nil {
		return nil, err
	}

	orientation := ReadOrientation(data)
	oriented := ApplyOrientation(decoded, orientation)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := imaging.Resize(oriented, spec.Width, spec.Height, imaging.Linear)

	logrus.WithFields(logrus.Fields{
		"source":      src.Name(),
		"format":      format,
		"source_size": fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"factor":      factor,
		"orientation": int(orientation),
		"target_size": fmt.Sprintf("%dx%d", spec.Width, spec.Height),
	}).Debug("image transcoded")

	return resized, nil
}

// DownsampleFactor returns the largest power of two f such that both
// width/f >= targetWidth and height/f >= targetHeight.
func DownsampleFactor(width, height, targetWidth, targetHeight int) int {
	factor := 1
	if targetWidth <= 0 || targetHeight <= 0 {
		return factor
	}
	for width/(factor*2) >= targetWidth && height/(factor*2) >= targetHeight {
		factor *= 2
	}
	return factor
}

func decodeScaled(data []byte, cfg image.Config, factor int) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &entity.TranscodeError{Op: "decode", Err: err}
	}
	if factor <= 1 {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, cfg.Width/factor, cfg.Height/factor, imaging.Box), nil
}

// Encode produces the payload described by spec.Encoding.
func (p *imageProcessor) Encode(img image.Image, spec entity.TargetSpec) (*entity.EncodedPayload, error) {
	if img == nil {
		return nil, entity.ErrNoImage
	}
	switch spec.Encoding {
	case entity.EncodingCompressed:
		return p.EncodeCompressed(img, spec.Quality, spec.MaxBytes)
	case entity.EncodingRGB565:
		return p.EncodeRaw16(img, spec.ByteOrder), nil
	}
	return nil, fmt.Errorf("%w: encoding %q", entity.ErrInvalidSpec, spec.Encoding)
}

// EncodeCompressed encodes img as JPEG, lowering the quality in steps of five
// until the result fits sizeCeiling or the quality floor is reached. The floor
// result is returned even when it is still over the ceiling.
func (p *imageProcessor) EncodeCompressed(img image.Image, qualityCeiling, sizeCeiling int) (*entity.EncodedPayload, error) {
	quality := clampQuality(qualityCeiling)

	data, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(data) > sizeCeiling && quality > entity.MinJPEGQuality {
		quality = clampQuality(quality - entity.JPEGQualityStep)
		if data, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	b := img.Bounds()
	return &entity.EncodedPayload{
		Kind:     entity.PayloadCompressed,
		Data:     data,
		MimeType: "image/jpeg",
		Quality:  quality,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func (p *imageProcessor) EncodeRaw16(img image.Image, order entity.ByteOrder) *entity.EncodedPayload {
	return EncodeRGB565(img, order)
}

func (p *imageProcessor) EncodePreview(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg at quality %d: %w", quality, err)
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	if q > 100 {
		return 100
	}
	if q < entity.MinJPEGQuality {
		return entity.MinJPEGQuality
	}
	return q
}

// DescribeSize renders a payload the way the UI shows it, e.g. "12.50 KB (128 x 128)".
func DescribeSize(p *entity.EncodedPayload) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.2f KB (%d x %d)", float64(len(p.Data))/1024.0, p.Width, p.Height)
}
