package detections

import (
	"image"
	"math"
	"sort"

	"github.com/visagelab/face-analysis-service/models"
)

const (
	defaultClusterSize = 50.0
	iouThreshold       = 0.45
)

// MergeOverlapping collapses near-duplicate detections of the same
// face into one box. Enlarged boxes of a single face frequently
// overlap, so boxes are clustered (DBSCAN over corner coordinates,
// radius derived from the median box size) and each cluster is merged
// into the union rectangle carrying its highest-confidence member.
func MergeOverlapping(faces []models.Face) []models.Face {
	if len(faces) == 0 {
		return nil
	}

	eps := math.Max(medianBoxSize(faces), defaultClusterSize) * 0.5
	minPoints := 1
	if len(faces) > 3 {
		minPoints = 2
	}

	points := make([][4]float64, len(faces))
	for i, f := range faces {
		points[i] = [4]float64{
			float64(f.Rect.Min.X),
			float64(f.Rect.Min.Y),
			float64(f.Rect.Max.X),
			float64(f.Rect.Max.Y),
		}
	}

	clusters := dbscan(points, eps, minPoints)
	return mergeClusters(faces, clusters)
}

func medianBoxSize(faces []models.Face) float64 {
	sizes := make([]float64, len(faces))
	for i, f := range faces {
		sizes[i] = math.Sqrt(float64(f.Rect.Dx()) * float64(f.Rect.Dy()))
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func mergeClusters(faces []models.Face, clusters []int) []models.Face {
	clusterMap := make(map[int][]models.Face)
	var merged []models.Face

	for i, cluster := range clusters {
		if cluster == -1 {
			// Noise points join a cluster they substantially
			// overlap, otherwise they stand alone.
			joined := false
			for id, members := range clusterMap {
				for _, m := range members {
					if iou(faces[i].Rect, m.Rect) > iouThreshold {
						clusterMap[id] = append(members, faces[i])
						joined = true
						break
					}
				}
				if joined {
					break
				}
			}
			if !joined {
				merged = append(merged, faces[i])
			}
			continue
		}
		clusterMap[cluster] = append(clusterMap[cluster], faces[i])
	}

	for _, members := range clusterMap {
		merged = append(merged, mergeFaces(members))
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}

// mergeFaces unions the member rectangles and keeps the label and
// confidence of the strongest member.
func mergeFaces(members []models.Face) models.Face {
	best := members[0]
	rect := members[0].Rect
	for _, m := range members[1:] {
		rect = rect.Union(m.Rect)
		if m.Confidence > best.Confidence {
			best = m
		}
	}
	best.Rect = rect
	return best
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()) + float64(b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

func dbscan(points [][4]float64, eps float64, minPoints int) []int {
	clusters := make([]int, len(points))
	for i := range clusters {
		clusters[i] = -1
	}

	current := 0
	for i := range points {
		if clusters[i] != -1 {
			continue
		}
		neighbors := neighborsOf(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}
		clusters[i] = current
		expandCluster(points, clusters, neighbors, current, eps, minPoints)
		current++
	}
	return clusters
}

func neighborsOf(points [][4]float64, idx int, eps float64) []int {
	var neighbors []int
	for i := range points {
		if pointDistance(points[idx], points[i]) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

func expandCluster(points [][4]float64, clusters, neighbors []int, cluster int, eps float64, minPoints int) {
	for i := 0; i < len(neighbors); i++ {
		idx := neighbors[i]
		if clusters[idx] != -1 {
			continue
		}
		clusters[idx] = cluster
		next := neighborsOf(points, idx, eps)
		if len(next) >= minPoints {
			neighbors = append(neighbors, next...)
		}
	}
}

func pointDistance(a, b [4]float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
