package matching

import (
	"fmt"
	"strconv"
	"strings"
)

// BBox is an axis-aligned bounding box, the only geometry the detector needs.
// Devices export footprints as "minX,minY,maxX,maxY".
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// ParseBBox parses the device bbox encoding. Empty input returns ok=false,
// not an error: geometry is optional on most records.
func ParseBBox(s string) (BBox, bool, error) {
	if strings.TrimSpace(s) == "" {
		return BBox{}, false, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, false, fmt.Errorf("bbox must have 4 coordinates, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, false, fmt.Errorf("bbox coordinate %d: %w", i, err)
		}
		v[i] = f
	}
	b := BBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return BBox{}, false, fmt.Errorf("bbox min exceeds max")
	}
	return b, true, nil
}

func (b BBox) Area() float64 {
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

// OverlapRatio returns intersection area over the smaller box's area, in
// [0,1]. Containment of a small unit inside a large parcel therefore scores 1.
func OverlapRatio(a, b BBox) float64 {
	ix := minf(a.MaxX, b.MaxX) - maxf(a.MinX, b.MinX)
	iy := minf(a.MaxY, b.MaxY) - maxf(a.MinY, b.MinY)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	smaller := minf(a.Area(), b.Area())
	if smaller <= 0 {
		return 0
	}
	r := inter / smaller
	if r > 1 {
		r = 1
	}
	return r
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
