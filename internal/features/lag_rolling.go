package features

import (
	"gonum.org/v1/gonum/stat"

	"economy-forecaster/internal/models"
)

// seriesFeatures computes lag, rolling and momentum columns for one series.
// points must be a contiguous calendar spine in ascending order, so index
// arithmetic equals calendar-day arithmetic. Only indices <= i are read.
func seriesFeatures(points []dailyPoint, i int, lags, windows []int) (lag, rollMean, rollStd, pct map[int]*float64) {
	lag = make(map[int]*float64, len(lags))
	rollMean = make(map[int]*float64, len(windows))
	rollStd = make(map[int]*float64, len(windows))
	pct = make(map[int]*float64, len(windows))

	priceAt := func(j int) *float64 {
		if j < 0 || j > i {
			return nil
		}
		return points[j].mean
	}

	for _, n := range lags {
		lag[n] = priceAt(i - n)
	}

	for _, n := range windows {
		var valid []float64
		for j := i - n + 1; j <= i; j++ {
			if p := priceAt(j); p != nil {
				valid = append(valid, *p)
			}
		}
		switch len(valid) {
		case 0:
			rollMean[n], rollStd[n] = nil, nil
		case 1:
			rollMean[n], rollStd[n] = models.Float(valid[0]), models.Float(0)
		default:
			mean, std := stat.PopMeanStdDev(valid, nil)
			rollMean[n], rollStd[n] = models.Float(mean), models.Float(std)
		}

		cur, prev := priceAt(i), priceAt(i-n)
		if cur != nil && prev != nil && *prev != 0 {
			pct[n] = models.Float((*cur - *prev) / *prev)
		} else {
			pct[n] = nil
		}
	}
	return lag, rollMean, rollStd, pct
}
