package sfm

// Match pairs keypoint Idx1 in the first frame with keypoint Idx2 in the
// second.
type Match struct {
	Idx1 int
	Idx2 int
	Dist int
}

type MatchConfig struct {
	// Reject matches with hamming distance above MaxDist.
	MaxDist int
	// Keep a match only if the two descriptors are each other's nearest
	// neighbor.
	CrossCheck bool
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		MaxDist:    64,
		CrossCheck: true,
	}
}

// MatchDescriptors brute-force matches desc1 against desc2.
func MatchDescriptors(desc1, desc2 []Descriptor, cfg MatchConfig) []Match {
	if len(desc1) == 0 || len(desc2) == 0 {
		return nil
	}
	best2 := nearestNeighbors(desc1, desc2)
	var best1 []int
	if cfg.CrossCheck {
		best1 = nearestNeighbors(desc2, desc1)
	}
	var matches []Match
	for i, j := range best2 {
		if j < 0 {
			continue
		}
		dist := HammingDistance(desc1[i], desc2[j])
		if cfg.MaxDist > 0 && dist > cfg.MaxDist {
			continue
		}
		if cfg.CrossCheck && best1[j] != i {
			continue
		}
		matches = append(matches, Match{Idx1: i, Idx2: j, Dist: dist})
	}
	return matches
}

// nearestNeighbors returns, for each descriptor in from, the index of its
// nearest neighbor in to.
func nearestNeighbors(from, to []Descriptor) []int {
	out := make([]int, len(from))
	for i, d := range from {
		bestIdx, bestDist := -1, descriptorBits+1
		for j, e := range to {
			dist := HammingDistance(d, e)
			if dist < bestDist {
				bestIdx, bestDist = j, dist
			}
		}
		out[i] = bestIdx
	}
	return out
}
