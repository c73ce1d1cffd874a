package extract

import (
	"bytes"
	"fmt"

	"github.com/aperture-photos/aperture/internal/media"
	"github.com/rwcarlsen/goexif/exif"
)

// CameraInfo reads camera EXIF fields from the raw bytes. Every field is
// optional; anything unreadable is simply left empty rather than defaulted.
// Most PNGs and screenshots carry no EXIF at all, so an error here is the
// common case, not an exceptional one.
func CameraInfo(raw []byte) (*media.ExifFields, error) {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode exif: %w", err)
	}

	fields := &media.ExifFields{}

	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			fields.Make = v
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			fields.Model = v
		}
	}
	if tag, err := x.Get(exif.FocalLength); err == nil {
		if r, err := tag.Rat(0); err == nil && r.Denom().Sign() != 0 {
			f, _ := r.Float64()
			fields.FocalLength = fmt.Sprintf("%gmm", f)
		}
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		if r, err := tag.Rat(0); err == nil && r.Denom().Sign() != 0 {
			f, _ := r.Float64()
			fields.Aperture = fmt.Sprintf("f/%.1f", f)
		}
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if r, err := tag.Rat(0); err == nil && r.Denom().Sign() != 0 {
			fields.ShutterSpeed = r.RatString() + "s"
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if v, err := tag.Int(0); err == nil {
			fields.ISO = v
		}
	}

	if fields.Empty() {
		return nil, nil
	}
	return fields, nil
}
