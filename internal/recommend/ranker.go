package recommend

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"economy-forecaster/internal/logging"
	"economy-forecaster/internal/models"
)

// RankOptions filters ranked output.
type RankOptions struct {
	// TopN keeps the best N per category; zero keeps all.
	TopN int
	// Actions keeps only the listed actions; empty keeps all.
	Actions []models.Action
}

// Rank groups scored forecasts by category, keeps one entry per series per
// category and orders each group by score descending, then lower uncertainty,
// then entity. Ranks start at 1 within each category. Categories are
// returned in name order.
func Rank(scored []Scored, opts RankOptions, logger zerolog.Logger) []models.RecommendationOutput {
	allowed := make(map[models.Action]bool, len(opts.Actions))
	for _, a := range opts.Actions {
		allowed[a] = true
	}

	best := make(map[models.Category]map[string]Scored)
	for _, sc := range scored {
		if len(allowed) > 0 && !allowed[sc.Action] {
			continue
		}
		cat := sc.Forecast.Category
		if best[cat] == nil {
			best[cat] = make(map[string]Scored)
		}
		key := models.SeriesKey(sc.Forecast.EntityID, sc.Forecast.Realm)
		cur, ok := best[cat][key]
		if !ok || sc.Score > cur.Score || (sc.Score == cur.Score && sc.Forecast.Horizon < cur.Forecast.Horizon) {
			best[cat][key] = sc
		}
	}

	cats := make([]models.Category, 0, len(best))
	for c := range best {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	var out []models.RecommendationOutput
	for _, cat := range cats {
		group := make([]Scored, 0, len(best[cat]))
		for _, sc := range best[cat] {
			group = append(group, sc)
		}
		sort.Slice(group, func(i, j int) bool { return less(group[i], group[j]) })
		if opts.TopN > 0 && len(group) > opts.TopN {
			group = group[:opts.TopN]
		}
		for i, sc := range group {
			rec := toOutput(sc, i+1)
			logging.LogRecommendation(logger, rec.EntityID, string(rec.Action), rec.Score, rec.Rank)
			out = append(out, rec)
		}
	}
	return out
}

func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Components.Uncertainty != b.Components.Uncertainty {
		return a.Components.Uncertainty < b.Components.Uncertainty
	}
	if a.Forecast.EntityID != b.Forecast.EntityID {
		return a.Forecast.EntityID < b.Forecast.EntityID
	}
	return a.Forecast.Realm < b.Forecast.Realm
}

func toOutput(sc Scored, rank int) models.RecommendationOutput {
	f := sc.Forecast
	return models.RecommendationOutput{
		ForecastID:  f.ID,
		EntityID:    f.EntityID,
		Realm:       f.Realm,
		Category:    f.Category,
		Horizon:     f.Horizon,
		Action:      sc.Action,
		Score:       sc.Score,
		Rank:        rank,
		ROI:         sc.ROI,
		Components:  sc.Components,
		Reasoning:   sc.Reasoning,
		GeneratedAt: f.GeneratedAt,
		InputsAsOf:  f.InputsAsOf,
		ExpiresAt:   f.GeneratedAt.Add(time.Duration(f.Horizon) * 24 * time.Hour),
	}
}
