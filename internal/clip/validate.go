package clip

import (
	"fmt"
	"io"

	"go.ngs.io/cams-clip/internal/domain"
)

// ValidateResult is the last gate before a clip result is written. A nil
// result or a zero-length spatial axis closes every handle and fails with
// EmptyClip; a result that passes always has at least one spatial cell.
func ValidateResult(ds *domain.Dataset, handles ...io.Closer) error {
	fail := func(err error) error {
		for _, h := range handles {
			if h != nil {
				_ = h.Close()
			}
		}
		return err
	}

	if ds == nil {
		return fail(domain.NewClipError(domain.CodeEmptyClip, emptyBoxMessage, nil))
	}
	axes, err := ResolveAxes(ds.Header())
	if err != nil {
		return fail(err)
	}
	nLat, nLon := ds.DimLen(axes.Lat), ds.DimLen(axes.Lon)
	if nLat <= 0 || nLon <= 0 {
		return fail(domain.NewClipErrorWithDetails(domain.CodeEmptyClip,
			fmt.Sprintf("%s (%s=%d, %s=%d)", emptyBoxMessage, axes.Lat, nLat, axes.Lon, nLon), nil,
			map[string]any{"lat_cells": nLat, "lon_cells": nLon}))
	}
	if err := ds.Validate(); err != nil {
		return fail(fmt.Errorf("invalid clip result: %w", err))
	}
	return nil
}
