package distill

import (
	"context"
	"fmt"
	"math"

	"github.com/yangqingmang/find-demand-sub000/embedder"
)

// clusterer groups survivor keywords into paraphrase clusters. The
// implementation is chosen once at pipeline construction: embedding-backed
// when a registry is available, pass-through otherwise.
type clusterer interface {
	cluster(ctx context.Context, keywords []string) ([]int, [][]float32, error)
}

type noopClusterer struct{}

func (noopClusterer) cluster(context.Context, []string) ([]int, [][]float32, error) {
	return nil, nil, fmt.Errorf("%w: no embedder registry configured", ErrClusteringUnavailable)
}

type embeddingClusterer struct {
	registry  *embedder.Registry
	model     string
	threshold float64
}

func (c *embeddingClusterer) cluster(ctx context.Context, keywords []string) ([]int, [][]float32, error) {
	emb := c.registry.Get(c.model)
	if !emb.Ready() {
		return nil, nil, fmt.Errorf("%w: embedder %q is disabled", ErrClusteringUnavailable, emb.Model())
	}
	vecs, err := emb.EmbedBatch(ctx, keywords)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: embed batch of %d: %v", ErrClusteringUnavailable, len(keywords), err)
	}
	return agglomerate(vecs, c.threshold), vecs, nil
}

// agglomerate runs average-linkage agglomerative clustering over cosine
// distance, merging until the closest pair of clusters is at or beyond the
// threshold. Labels are numbered by first-member order.
func agglomerate(vecs [][]float32, threshold float64) []int {
	n := len(vecs)
	labels := make([]int, n)
	if n < 2 {
		return labels
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := embedder.CosineDistance(vecs[i], vecs[j])
			dist[i][j], dist[j][i] = d, d
		}
	}

	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for {
		bi, bj := -1, -1
		best := math.MaxFloat64
		for i := range clusters {
			if clusters[i] == nil {
				continue
			}
			for j := i + 1; j < len(clusters); j++ {
				if clusters[j] == nil {
					continue
				}
				if d := linkage(dist, clusters[i], clusters[j]); d < best {
					best, bi, bj = d, i, j
				}
			}
		}
		if bi < 0 || best >= threshold {
			break
		}
		clusters[bi] = append(clusters[bi], clusters[bj]...)
		clusters[bj] = nil
	}

	label := 0
	for _, members := range clusters {
		if members == nil {
			continue
		}
		for _, m := range members {
			labels[m] = label
		}
		label++
	}
	return labels
}

func linkage(dist [][]float64, a, b []int) float64 {
	sum := 0.0
	for _, i := range a {
		for _, j := range b {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}

// representatives returns, per cluster label in ascending order, the index
// of the member closest to its cluster centroid.
func representatives(labels []int, vecs [][]float32) []int {
	if len(labels) == 0 {
		return nil
	}
	members := map[int][]int{}
	maxLabel := 0
	for i, l := range labels {
		members[l] = append(members[l], i)
		if l > maxLabel {
			maxLabel = l
		}
	}

	reps := make([]int, 0, maxLabel+1)
	for l := 0; l <= maxLabel; l++ {
		idxs := members[l]
		if len(idxs) == 0 {
			continue
		}
		centroid := meanVector(vecs, idxs)
		best, bestSim := idxs[0], math.Inf(-1)
		for _, i := range idxs {
			if sim := embedder.CosineSimilarity(vecs[i], centroid); sim > bestSim {
				best, bestSim = i, sim
			}
		}
		reps = append(reps, best)
	}
	return reps
}

func meanVector(vecs [][]float32, idxs []int) []float32 {
	if len(idxs) == 0 || len(vecs) == 0 {
		return nil
	}
	mean := make([]float32, len(vecs[idxs[0]]))
	for _, i := range idxs {
		for d, v := range vecs[i] {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float32(len(idxs))
	}
	return mean
}
