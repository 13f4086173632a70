package keyword

import "math"

const (
	volumeWeight      = 0.5
	competitionWeight = 0.25
	difficultyWeight  = 0.25

	// volume at which the volume component saturates
	volumeCeiling = 1_000_000
)

// OpportunityScore ranks a keyword on 0..100. It rises with search volume and falls
// with competition and difficulty. Components that are unknown are left out and the
// remaining weights are re-normalized. It returns nil when volume is unknown.
func OpportunityScore(r *Record) *int {
	if r == nil || r.SearchVolume == nil {
		return nil
	}

	total := volumeWeight * volumeComponent(*r.SearchVolume)
	weights := volumeWeight

	if r.Competition != nil {
		total += competitionWeight * competitionComponent(*r.Competition)
		weights += competitionWeight
	}
	if r.DifficultyScore != nil {
		total += difficultyWeight * (1 - clamp(*r.DifficultyScore, 0, 100)/100)
		weights += difficultyWeight
	}

	score := int(math.Round(clamp(total/weights*100, 0, 100)))
	return &score
}

func volumeComponent(volume int64) float64 {
	if volume <= 0 {
		return 0
	}
	return clamp(math.Log10(float64(volume)+1)/math.Log10(volumeCeiling+1), 0, 1)
}

func competitionComponent(level CompetitionLevel) float64 {
	switch level {
	case CompetitionLow:
		return 1
	case CompetitionMedium:
		return 0.6
	case CompetitionHigh:
		return 0.25
	default:
		return 0.5
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
