package dispatch

import (
	"math"

	"ridetrack/internal/domain"
)

// Scoring horizons. Inputs beyond a horizon contribute zero.
const (
	distanceHorizonKm = 10.0
	maxRating         = 5.0
	etaHorizonMinutes = 30.0
	distanceWeight    = 0.4
	ratingWeight      = 0.4
	etaWeight         = 0.2
	scoreTieTolerance = 1e-9
)

// Score rates a candidate in [0, 1]; nearer, better rated and sooner is higher.
func Score(distanceKm, rating, etaMinutes float64) float64 {
	distanceScore := clamp01(1 - distanceKm/distanceHorizonKm)
	ratingScore := clamp01(rating / maxRating)
	etaScore := clamp01(1 - etaMinutes/etaHorizonMinutes)
	return distanceWeight*distanceScore + ratingWeight*ratingScore + etaWeight*etaScore
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// better reports whether a ranks above b: higher score, then smaller
// distance, then lexicographically smaller driver id.
func better(a, b domain.DriverCandidate) bool {
	if math.Abs(a.Score-b.Score) > scoreTieTolerance {
		return a.Score > b.Score
	}
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	return a.Driver.ID < b.Driver.ID
}

// selectBest returns the top ranked candidate.
func selectBest(candidates []domain.DriverCandidate) (domain.DriverCandidate, bool) {
	if len(candidates) == 0 {
		return domain.DriverCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}
