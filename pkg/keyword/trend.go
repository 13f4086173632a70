package keyword

import "sort"

const (
	minPointsThreeMonth = 4
	minPointsYearly     = 12
)

// SortSeries returns the series ordered by (year, month) ascending
func SortSeries(series []MonthlyVolume) []MonthlyVolume {
	sorted := append([]MonthlyVolume(nil), series...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Year != sorted[j].Year {
			return sorted[i].Year < sorted[j].Year
		}
		return sorted[i].Month < sorted[j].Month
	})
	return sorted
}

// ThreeMonthChange compares the latest point with the value three months prior.
// It returns nil with fewer than four points or a zero baseline.
func ThreeMonthChange(series []MonthlyVolume) *float64 {
	if len(series) < minPointsThreeMonth {
		return nil
	}
	sorted := SortSeries(series)
	latest := sorted[len(sorted)-1].Volume
	prior := sorted[len(sorted)-minPointsThreeMonth].Volume
	return percentChange(latest, prior)
}

// YearOverYearChange compares the latest point with the first point of the trailing
// twelve-point window. It returns nil with fewer than twelve points or a zero baseline.
func YearOverYearChange(series []MonthlyVolume) *float64 {
	if len(series) < minPointsYearly {
		return nil
	}
	sorted := SortSeries(series)
	latest := sorted[len(sorted)-1].Volume
	first := sorted[len(sorted)-minPointsYearly].Volume
	return percentChange(latest, first)
}

func percentChange(latest, base int64) *float64 {
	if base == 0 {
		return nil
	}
	v := float64(latest-base) / float64(base) * 100
	return &v
}
