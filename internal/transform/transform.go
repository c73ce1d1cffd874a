package transform

import (
	"bytes"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/aperture-photos/aperture/internal/media"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

type Config struct {
	ThumbnailSize int
	SmallMax      int
	RegularMax    int
	Quality       int
	// MaxPixels guards against decompression bombs: images whose decoded
	// pixel count exceeds it are rejected before any allocation-heavy work.
	MaxPixels int
	// AnimationVideoThreshold is the raw byte size above which an animated
	// image is reclassified to the video path.
	AnimationVideoThreshold int64
}

func DefaultConfig() Config {
	return Config{
		ThumbnailSize:           240,
		SmallMax:                640,
		RegularMax:              1600,
		Quality:                 85,
		MaxPixels:               50_000_000,
		AnimationVideoThreshold: 8 * 1024 * 1024,
	}
}

// Variant is one encoded rendition produced by a transform.
type Variant struct {
	Tier        media.SizeTier
	Encoding    media.Encoding
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Output is the full result of transforming one raw object.
type Output struct {
	Kind         media.Kind
	Reclassified bool
	Variants     []Variant
}

// Transformer is a pure function over bytes: it holds no handles to storage,
// the queue, or the store, so it can run inside an isolated pool worker.
type Transformer struct {
	cfg Config
}

func New(cfg Config) *Transformer {
	return &Transformer{cfg: cfg}
}

// Process turns raw bytes into the fixed variant set. All failure modes
// surface as *Error; it never panics on adversarial input by contract, and
// the pool guards the contract with a recover.
func (t *Transformer) Process(raw []byte, mimeType string) (*Output, error) {
	if len(raw) == 0 {
		return nil, newError(ReasonCorruptInput, nil)
	}

	c := Classify(raw, mimeType, t.cfg.AnimationVideoThreshold)
	if c.Kind == media.KindVideo {
		return t.processVideo(raw, mimeType, c.Reclassified)
	}
	return t.processImage(raw, mimeType)
}

func (t *Transformer) processImage(raw []byte, mimeType string) (*Output, error) {
	img, err := t.decode(raw)
	if err != nil {
		return nil, err
	}

	out := &Output{Kind: media.KindImage}

	bounds := img.Bounds()
	thumb := imaging.Fill(img, t.cfg.ThumbnailSize, t.cfg.ThumbnailSize, imaging.Center, imaging.Lanczos)
	small := imaging.Fit(img, t.cfg.SmallMax, t.cfg.SmallMax, imaging.Lanczos)
	regular := imaging.Fit(img, t.cfg.RegularMax, t.cfg.RegularMax, imaging.Lanczos)

	for _, tier := range []struct {
		tier media.SizeTier
		img  image.Image
	}{
		{media.TierThumbnail, thumb},
		{media.TierSmall, small},
		{media.TierRegular, regular},
	} {
		pair, err := t.encodePair(tier.tier, tier.img)
		if err != nil {
			return nil, err
		}
		out.Variants = append(out.Variants, pair...)
	}

	// The largest tier passes the original bytes through untouched.
	out.Variants = append(out.Variants, Variant{
		Tier:        media.TierOriginal,
		Encoding:    media.EncodingLegacy,
		Data:        raw,
		ContentType: mimeType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	})

	return out, nil
}

func (t *Transformer) processVideo(raw []byte, mimeType string, reclassified bool) (*Output, error) {
	out := &Output{Kind: media.KindVideo, Reclassified: reclassified}

	// Reclassified animations still have a decodable first frame, which
	// makes a usable poster thumbnail. True video posters come from the
	// transcoding service, outside this pipeline.
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		frame, err := t.decode(raw)
		if err != nil {
			return nil, err
		}
		thumb := imaging.Fill(frame, t.cfg.ThumbnailSize, t.cfg.ThumbnailSize, imaging.Center, imaging.Lanczos)
		pair, err := t.encodePair(media.TierThumbnail, thumb)
		if err != nil {
			return nil, err
		}
		out.Variants = append(out.Variants, pair...)
	}

	out.Variants = append(out.Variants, Variant{
		Tier:        media.TierOriginal,
		Encoding:    media.EncodingLegacy,
		Data:        raw,
		ContentType: mimeType,
	})

	return out, nil
}

func (t *Transformer) decode(raw []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(ReasonCorruptInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > t.cfg.MaxPixels {
		return nil, newError(ReasonTooLarge, nil)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(ReasonCorruptInput, err)
	}
	return img, nil
}

// encodePair produces the legacy (JPEG) and modern (WebP) encodings of one
// raster tier, so downstream consumers can degrade gracefully.
func (t *Transformer) encodePair(tier media.SizeTier, img image.Image) ([]Variant, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var jpg bytes.Buffer
	if err := imaging.Encode(&jpg, img, imaging.JPEG, imaging.JPEGQuality(t.cfg.Quality)); err != nil {
		return nil, newError(ReasonEncodeFailed, err)
	}

	var wp bytes.Buffer
	if err := webp.Encode(&wp, img, &webp.Options{Quality: float32(t.cfg.Quality)}); err != nil {
		return nil, newError(ReasonEncodeFailed, err)
	}

	return []Variant{
		{
			Tier:        tier,
			Encoding:    media.EncodingLegacy,
			Data:        jpg.Bytes(),
			ContentType: "image/jpeg",
			Width:       w,
			Height:      h,
		},
		{
			Tier:        tier,
			Encoding:    media.EncodingModern,
			Data:        wp.Bytes(),
			ContentType: "image/webp",
			Width:       w,
			Height:      h,
		},
	}, nil
}
