package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/media"
)

// Results carries whatever the extractors managed to pull out. Absent
// fields stay nil and are omitted from the published record.
type Results struct {
	Colors []string
	Exif   *media.ExifFields
}

// Run executes all extractors in parallel against the same immutable buffer.
// Each is independent and best-effort: a failing extractor only loses its
// own fields, never the job.
func Run(ctx context.Context, raw []byte, colorCount int) Results {
	log := logger.FromContext(ctx)

	var (
		wg  sync.WaitGroup
		res Results
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		defer recoverExtractor(ctx, "colors")
		colors, err := DominantColors(raw, colorCount)
		if err != nil {
			log.Debug("color extraction skipped", "error", err)
			return
		}
		res.Colors = colors
	}()

	go func() {
		defer wg.Done()
		defer recoverExtractor(ctx, "exif")
		fields, err := CameraInfo(raw)
		if err != nil {
			log.Debug("exif extraction skipped", "error", err)
			return
		}
		res.Exif = fields
	}()

	wg.Wait()
	return res
}

func recoverExtractor(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.FromContext(ctx).Warn("extractor panicked", "extractor", name, "panic", fmt.Sprint(r))
	}
}
