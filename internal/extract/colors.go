package extract

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/EdlinOrg/prominentcolor"
)

// DominantColors returns up to k dominant colors as lowercase #rrggbb hex.
// Best-effort: any decode or clustering failure returns an error the caller
// is expected to log and drop.
func DominantColors(raw []byte, k int) ([]string, error) {
	if k < 1 {
		k = 3
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode for color extraction: %w", err)
	}

	items, err := prominentcolor.KmeansWithAll(k, img,
		prominentcolor.ArgumentDefault,
		prominentcolor.DefaultSize,
		prominentcolor.GetDefaultMasks(),
	)
	if err != nil {
		return nil, fmt.Errorf("color clustering: %w", err)
	}

	colors := make([]string, 0, len(items))
	for _, item := range items {
		colors = append(colors, "#"+strings.ToLower(item.AsString()))
		if len(colors) == k {
			break
		}
	}
	return colors, nil
}
