// Package kmeans clusters unit-norm embedding vectors with K-means++ seeding
// under cosine distance. It performs no I/O.
package kmeans

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

const (
	// DefaultMaxIterations bounds the assign/update loop.
	DefaultMaxIterations = 50
	// DefaultEpsilon is the per-cluster convergence threshold on squared
	// centroid displacement.
	DefaultEpsilon = 1e-4
)

// Options controls a clustering run. Zero values select the defaults.
type Options struct {
	MaxIterations int
	Epsilon       float64
	Rand          *rand.Rand
}

// Result holds the final centroids and the cluster index of every input point.
type Result struct {
	Centroids   [][]float32
	Assignments []int
	Iterations  int
}

// K returns the number of clusters in the result.
func (r Result) K() int {
	return len(r.Centroids)
}

// Members returns the indices of the points assigned to cluster c, in input order.
func (r Result) Members(c int) []int {
	var members []int
	for i, a := range r.Assignments {
		if a == c {
			members = append(members, i)
		}
	}
	return members
}

// Representatives returns up to limit members of cluster c ordered by
// increasing cosine distance to its centroid.
func (r Result) Representatives(points [][]float32, c, limit int) []int {
	members := r.Members(c)
	if c < 0 || c >= len(r.Centroids) {
		return nil
	}
	centroid := r.Centroids[c]
	sort.SliceStable(members, func(i, j int) bool {
		return CosineDistance(points[members[i]], centroid) < CosineDistance(points[members[j]], centroid)
	})
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	return members
}

func normalizeOptions(opts Options) Options {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return opts
}

// Cluster partitions points into k clusters. k is clamped to len(points);
// zero points or k <= 0 yield an empty Result. Every returned cluster has at
// least one member.
func Cluster(points [][]float32, k int, opts Options) Result {
	n := len(points)
	if n == 0 || k <= 0 {
		return Result{}
	}
	if k > n {
		k = n
	}
	opts = normalizeOptions(opts)

	unit := make([][]float32, n)
	for i, p := range points {
		unit[i] = Normalize(p)
	}

	centroids := seed(unit, k, opts.Rand)
	assign := make([]int, n)

	iterations := 0
	for iterations < opts.MaxIterations {
		iterations++

		assignNearest(unit, centroids, assign)
		reseedEmpty(unit, centroids, assign)

		next := recompute(unit, centroids, assign)
		var shift float64
		for c := range next {
			shift += squaredDisplacement(centroids[c], next[c])
		}
		centroids = next

		if shift < opts.Epsilon*float64(k) {
			break
		}
	}

	return Result{
		Centroids:   centroids,
		Assignments: assign,
		Iterations:  iterations,
	}
}

// seed picks k initial centroids: the first uniformly at random, each next one
// with probability proportional to its squared distance from the nearest
// centroid chosen so far.
func seed(points [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(points)
	centroids := make([][]float32, 0, k)
	chosen := make([]bool, n)
	weight := make([]float64, n)

	first := rng.Intn(n)
	chosen[first] = true
	centroids = append(centroids, clone(points[first]))
	for i := range points {
		d := CosineDistance(points[i], centroids[0])
		weight[i] = d * d
	}

	for len(centroids) < k {
		var total float64
		for i := range weight {
			if !chosen[i] {
				total += weight[i]
			}
		}

		idx := -1
		if total > 0 {
			r := rng.Float64() * total
			for i := range weight {
				if chosen[i] || weight[i] == 0 {
					continue
				}
				idx = i
				r -= weight[i]
				if r <= 0 {
					break
				}
			}
		}
		if idx < 0 {
			// Every remaining point coincides with a centroid.
			remaining := make([]int, 0, n)
			for i := range chosen {
				if !chosen[i] {
					remaining = append(remaining, i)
				}
			}
			idx = remaining[rng.Intn(len(remaining))]
		}

		chosen[idx] = true
		c := clone(points[idx])
		centroids = append(centroids, c)
		for i := range points {
			d := CosineDistance(points[i], c)
			if d*d < weight[i] {
				weight[i] = d * d
			}
		}
	}
	return centroids
}

func assignNearest(points, centroids [][]float32, assign []int) {
	for i, p := range points {
		assign[i] = nearest(p, centroids, -1)
	}
}

// nearest returns the index of the centroid closest to p, skipping skip.
func nearest(p []float32, centroids [][]float32, skip int) int {
	best := -1
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if c == skip {
			continue
		}
		d := CosineDistance(p, centroid)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// reseedEmpty moves, for every empty cluster, the point farthest from all
// other centroids into it. Only points whose current cluster keeps at least
// one other member are eligible, so no cluster is emptied in the process.
func reseedEmpty(points, centroids [][]float32, assign []int) {
	counts := make([]int, len(centroids))
	for _, a := range assign {
		counts[a]++
	}

	for c := range centroids {
		if counts[c] > 0 {
			continue
		}

		farthest := -1
		farthestDist := -1.0
		for i, p := range points {
			if counts[assign[i]] <= 1 {
				continue
			}
			other := nearest(p, centroids, c)
			if other < 0 {
				continue
			}
			d := CosineDistance(p, centroids[other])
			if d > farthestDist {
				farthestDist = d
				farthest = i
			}
		}
		if farthest < 0 {
			continue
		}

		counts[assign[farthest]]--
		assign[farthest] = c
		counts[c] = 1
		centroids[c] = clone(points[farthest])
	}
}

// recompute averages each cluster's members and re-normalizes the mean so the
// cosine shortcut stays valid.
func recompute(points, centroids [][]float32, assign []int) [][]float32 {
	dim := len(points[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := assign[i]
		counts[c]++
		for d := 0; d < dim && d < len(p); d++ {
			sums[c][d] += float64(p[d])
		}
	}

	next := make([][]float32, len(centroids))
	for c := range centroids {
		if counts[c] == 0 {
			next[c] = clone(centroids[c])
			continue
		}
		mean := make([]float32, dim)
		for d := range mean {
			mean[d] = float32(sums[c][d] / float64(counts[c]))
		}
		unit := Normalize(mean)
		if Dot(unit, unit) == 0 {
			// Members cancel out; keep the previous direction.
			unit = clone(centroids[c])
		}
		next[c] = unit
	}
	return next
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
