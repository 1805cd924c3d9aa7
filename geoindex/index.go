// Package geoindex implements the geopoint index: a coarse
// grid of 1-degree lat/lon cells accelerates candidate lookup, and
// github.com/blevesearch/bleve/geo's haversine/bbox math does the exact
// distance and bbox-overlap tests so the grid only has to be a
// conservative prefilter.
package geoindex

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	geo "github.com/blevesearch/bleve/geo"

	"github.com/mizusearch/core/types"
)

// cellDegrees is the grid resolution: every cell is cellDegrees wide
// in both latitude and longitude. Coarser than the tightest practical
// query radius, so Radius/Polygon always re-verify candidates exactly
// rather than trusting cell membership.
const cellDegrees = 1.0

type cellKey struct{ latCell, lngCell int32 }

func cellOf(p types.GeoPoint) cellKey {
	return cellKey{
		latCell: int32(math.Floor(p.Lat / cellDegrees)),
		lngCell: int32(math.Floor(normalizeLng(p.Lng) / cellDegrees)),
	}
}

func normalizeLng(lng float64) float64 {
	for lng < -180 {
		lng += 360
	}
	for lng >= 180 {
		lng -= 360
	}
	return lng
}

// Index maps document ids to geopoints, with a grid for candidate
// prefiltering on radius/polygon queries.
type Index struct {
	points map[uint32]types.GeoPoint
	grid   map[cellKey]*roaring.Bitmap
}

func New() *Index {
	return &Index{
		points: make(map[uint32]types.GeoPoint),
		grid:   make(map[cellKey]*roaring.Bitmap),
	}
}

func (ix *Index) Insert(docID uint32, p types.GeoPoint) {
	if old, ok := ix.points[docID]; ok {
		ix.removeFromGrid(docID, old)
	}
	ix.points[docID] = p
	key := cellOf(p)
	bm, ok := ix.grid[key]
	if !ok {
		bm = roaring.New()
		ix.grid[key] = bm
	}
	bm.Add(docID)
}

func (ix *Index) Remove(docID uint32) {
	p, ok := ix.points[docID]
	if !ok {
		return
	}
	ix.removeFromGrid(docID, p)
	delete(ix.points, docID)
}

func (ix *Index) removeFromGrid(docID uint32, p types.GeoPoint) {
	key := cellOf(p)
	if bm, ok := ix.grid[key]; ok {
		bm.Remove(docID)
		if bm.IsEmpty() {
			delete(ix.grid, key)
		}
	}
}

// cellsInBBox enumerates the grid cells a (minLon,minLat)-(maxLon,maxLat)
// bbox overlaps, splitting at the antimeridian when minLon > maxLon.
func (ix *Index) cellsInBBox(minLon, minLat, maxLon, maxLat float64) []cellKey {
	if minLon <= maxLon {
		return cellsInSpan(minLon, minLat, maxLon, maxLat)
	}
	out := cellsInSpan(minLon, minLat, 180, maxLat)
	out = append(out, cellsInSpan(-180, minLat, maxLon, maxLat)...)
	return out
}

func cellsInSpan(minLon, minLat, maxLon, maxLat float64) []cellKey {
	var out []cellKey
	latLo := int32(math.Floor(minLat / cellDegrees))
	latHi := int32(math.Floor(maxLat / cellDegrees))
	lngLo := int32(math.Floor(minLon / cellDegrees))
	lngHi := int32(math.Floor(maxLon / cellDegrees))
	for la := latLo; la <= latHi; la++ {
		for lo := lngLo; lo <= lngHi; lo++ {
			out = append(out, cellKey{latCell: la, lngCell: lo})
		}
	}
	return out
}

func (ix *Index) candidates(keys []cellKey) *roaring.Bitmap {
	out := roaring.New()
	for _, k := range keys {
		if bm, ok := ix.grid[k]; ok {
			out.Or(bm)
		}
	}
	return out
}

// Radius returns the ids within radiusKM kilometers of (lat,lng),
// verified by exact haversine distance.
func (ix *Index) Radius(lat, lng, radiusKM float64) *roaring.Bitmap {
	// RectFromPointDistance takes the distance in meters and returns
	// (minLon, maxLat, maxLon, minLat).
	minLon, maxLat, maxLon, minLat, err := geo.RectFromPointDistance(lng, lat, radiusKM*1000)
	out := roaring.New()
	if err != nil {
		return out
	}
	for _, id := range ix.candidates(ix.cellsInBBox(minLon, minLat, maxLon, maxLat)).ToArray() {
		p := ix.points[id]
		if geo.Haversin(lng, lat, p.Lng, p.Lat) <= radiusKM {
			out.Add(id)
		}
	}
	return out
}

// Polygon returns the ids inside the (implicitly closed) polygon,
// handling antimeridian-crossing polygons by normalizing vertex
// longitudes relative to the first vertex before the bbox scan and the
// point-in-polygon test.
func (ix *Index) Polygon(vertices []types.GeoPoint) *roaring.Bitmap {
	out := roaring.New()
	if len(vertices) < 3 {
		return out
	}
	norm := normalizePolygon(vertices)

	minLat, maxLat := norm[0].Lat, norm[0].Lat
	minLon, maxLon := norm[0].Lng, norm[0].Lng
	for _, v := range norm[1:] {
		minLat = math.Min(minLat, v.Lat)
		maxLat = math.Max(maxLat, v.Lat)
		minLon = math.Min(minLon, v.Lng)
		maxLon = math.Max(maxLon, v.Lng)
	}

	for _, id := range ix.candidates(ix.cellsInBBox(wrapLng(minLon), minLat, wrapLng(maxLon), maxLat)).ToArray() {
		p := ix.points[id]
		test := types.GeoPoint{Lat: p.Lat, Lng: p.Lng}
		if shiftIntoRange(&test, norm[0].Lng) && pointInPolygon(test, norm) {
			out.Add(id)
		}
	}
	return out
}

// normalizePolygon unwraps vertex longitudes so the polygon never
// crosses the +/-180 seam, by shifting every vertex within 180 degrees
// of the first.
func normalizePolygon(vertices []types.GeoPoint) []types.GeoPoint {
	out := make([]types.GeoPoint, len(vertices))
	ref := vertices[0].Lng
	for i, v := range vertices {
		lng := v.Lng
		for lng-ref > 180 {
			lng -= 360
		}
		for lng-ref < -180 {
			lng += 360
		}
		out[i] = types.GeoPoint{Lat: v.Lat, Lng: lng}
	}
	return out
}

func shiftIntoRange(p *types.GeoPoint, ref float64) bool {
	for p.Lng-ref > 180 {
		p.Lng -= 360
	}
	for p.Lng-ref < -180 {
		p.Lng += 360
	}
	return true
}

func wrapLng(lng float64) float64 { return normalizeLng(lng) }

// pointInPolygon is a standard ray-casting test against the
// (already-antimeridian-normalized) vertex ring.
func pointInPolygon(p types.GeoPoint, poly []types.GeoPoint) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) {
			lngAtCrossing := (pj.Lng-pi.Lng)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lng
			if p.Lng < lngAtCrossing {
				inside = !inside
			}
		}
	}
	return inside
}
