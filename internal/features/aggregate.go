package features

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"economy-forecaster/internal/models"
)

// Normalize computes per (entity, realm, day) z-scores and flags outliers
// whose |z| exceeds threshold. Groups with fewer than two prices or zero
// spread get no z-score and are never outliers.
func Normalize(obs []models.Observation, loc *time.Location, threshold float64) []models.NormalizedObservation {
	type groupKey struct {
		series string
		day    time.Time
	}
	groups := make(map[groupKey][]int)
	for i, o := range obs {
		k := groupKey{series: o.SeriesKey(), day: models.Day(o.ObservedAt, loc)}
		groups[k] = append(groups[k], i)
	}

	out := make([]models.NormalizedObservation, len(obs))
	for _, idx := range groups {
		prices := make([]float64, len(idx))
		for j, i := range idx {
			prices[j] = obs[i].Price
		}
		var mean, std float64
		if len(prices) >= 2 {
			mean, std = stat.PopMeanStdDev(prices, nil)
		}
		for _, i := range idx {
			n := models.NormalizedObservation{Observation: obs[i]}
			if std > 0 {
				z := (obs[i].Price - mean) / std
				n.ZScore = &z
				n.IsOutlier = math.Abs(z) > threshold
			}
			out[i] = n
		}
	}
	return out
}

// dailyPoint is one calendar day of one series after aggregation. Days with
// no surviving observations keep a nil price.
type dailyPoint struct {
	entityID string
	realm    string
	category models.Category
	day      time.Time
	mean     *float64
	min      *float64
	max      *float64
	volume   *float64
	count    int
}

// aggregateDaily collapses normalized observations into one point per series
// per calendar day, filling calendar gaps from each series' first day through
// the given last day. Outliers are excluded.
func aggregateDaily(obs []models.NormalizedObservation, loc *time.Location, through time.Time) map[string][]dailyPoint {
	type bucket struct {
		prices []float64
		volume float64
		hasVol bool
	}
	series := make(map[string]map[string]*bucket)
	first := make(map[string]time.Time)
	meta := make(map[string]models.Observation)

	for _, o := range obs {
		day := models.Day(o.ObservedAt, loc)
		if day.After(through) {
			continue
		}
		key := o.SeriesKey()
		if _, ok := series[key]; !ok {
			series[key] = make(map[string]*bucket)
			meta[key] = o.Observation
		}
		if f, ok := first[key]; !ok || day.Before(f) {
			first[key] = day
		}
		if o.IsOutlier {
			continue
		}
		b, ok := series[key][day.Format(models.DateLayout)]
		if !ok {
			b = &bucket{}
			series[key][day.Format(models.DateLayout)] = b
		}
		b.prices = append(b.prices, o.Price)
		if o.Volume != nil {
			b.volume += *o.Volume
			b.hasVol = true
		}
	}

	out := make(map[string][]dailyPoint, len(series))
	for key, days := range series {
		m := meta[key]
		var points []dailyPoint
		for day := first[key]; !day.After(through); day = models.AddDays(day, 1) {
			p := dailyPoint{entityID: m.EntityID, realm: m.Realm, category: m.Category, day: day}
			if b, ok := days[day.Format(models.DateLayout)]; ok && len(b.prices) > 0 {
				p.mean = models.Float(stat.Mean(b.prices, nil))
				p.min = models.Float(floats.Min(b.prices))
				p.max = models.Float(floats.Max(b.prices))
				p.count = len(b.prices)
				if b.hasVol {
					p.volume = models.Float(b.volume)
				}
			}
			points = append(points, p)
		}
		out[key] = points
	}
	return out
}

// sortedKeys returns map keys in lexical order for deterministic output.
func sortedKeys(m map[string][]dailyPoint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
