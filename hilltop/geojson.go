package hilltop

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature kinds written to the "kind" property.
const (
	FeatureKindPeak   = "peak"
	FeatureKindWindow = "window"
)

// PeaksToFeatureCollection exports a result in image pixel coordinates
// (x right, y down). Every peak yields a Point feature and a Polygon for the
// square neighbourhood of half-side featureSize/2 that suppression clears
// around it, clipped to the image.
func PeaksToFeatureCollection(r *Result, source string, featureSize int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	half := featureSize / 2
	for i, p := range r.Peaks {
		pf := geojson.NewFeature(orb.Point{float64(p.X), float64(p.Y)})
		pf.ID = i + 1
		pf.Properties["kind"] = FeatureKindPeak
		pf.Properties["rank"] = i + 1
		pf.Properties["weight"] = p.Weight
		if source != "" {
			pf.Properties["source"] = source
		}
		fc.Append(pf)

		x0, y0, x1, y1 := window(p.X, p.Y, half, max(r.Width, 1), max(r.Height, 1))
		bound := orb.Bound{
			Min: orb.Point{float64(x0), float64(y0)},
			Max: orb.Point{float64(x1 + 1), float64(y1 + 1)},
		}
		wf := geojson.NewFeature(bound.ToPolygon())
		wf.Properties["kind"] = FeatureKindWindow
		wf.Properties["rank"] = i + 1
		wf.Properties["area"] = math.Abs(planar.Area(bound.ToPolygon()))
		fc.Append(wf)
	}
	return fc
}

func peakPoint(p Point) orb.Point {
	return orb.Point{float64(p.X), float64(p.Y)}
}

// MinSeparation returns the smallest Euclidean distance between any two
// peaks, or 0 when there are fewer than two.
func MinSeparation(peaks []Point) float64 {
	if len(peaks) < 2 {
		return 0
	}
	best := -1.0
	for i := 0; i < len(peaks); i++ {
		for j := i + 1; j < len(peaks); j++ {
			d := planar.Distance(peakPoint(peaks[i]), peakPoint(peaks[j]))
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

// ClusterPeaks groups peaks that lie within maxDist of each other.
//
// The grouping is single-linkage: if peak A is near B and B is near C, all
// three share a cluster even when A and C are far apart. Peaks keep their
// extraction order within a cluster, and clusters are ordered by their
// first member.
func ClusterPeaks(peaks []Point, maxDist float64) [][]Point {
	if len(peaks) == 0 {
		return nil
	}

	uf := newUnionFind(len(peaks))
	for i := 0; i < len(peaks); i++ {
		for j := i + 1; j < len(peaks); j++ {
			if planar.Distance(peakPoint(peaks[i]), peakPoint(peaks[j])) <= maxDist {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range peaks {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], i)
	}
	groups := make([][]int, 0, len(byRoot))
	for _, g := range byRoot {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })

	result := make([][]Point, len(groups))
	for i, g := range groups {
		for _, idx := range g {
			result[i] = append(result[i], peaks[idx])
		}
	}
	return result
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
