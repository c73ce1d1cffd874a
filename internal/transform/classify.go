package transform

import (
	"bytes"
	"image/gif"
	"strings"

	"github.com/aperture-photos/aperture/internal/media"
)

type Classification struct {
	Kind media.Kind
	// Reclassified is set when an animated image was large enough to be
	// handled as a video asset instead.
	Reclassified bool
}

// Classify decides which pipeline path a raw object takes. Animated images
// above the threshold are deliberately pushed onto the video path to cap the
// bandwidth and storage cost of large animations.
func Classify(raw []byte, mimeType string, animationThreshold int64) Classification {
	mimeType = strings.ToLower(mimeType)

	if strings.HasPrefix(mimeType, "video/") {
		return Classification{Kind: media.KindVideo}
	}

	if mimeType == "image/gif" && isAnimated(raw) && int64(len(raw)) > animationThreshold {
		return Classification{Kind: media.KindVideo, Reclassified: true}
	}

	return Classification{Kind: media.KindImage}
}

func isAnimated(raw []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}
