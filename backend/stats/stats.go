package stats

import (
	"github.com/terraconnect/terra-connect/backend/models"
)

// Summarize maps the finished-target totals grouped by impact metric onto the
// community summary. Groups with an unknown label are dropped and missing
// groups stay at zero.
func Summarize(totals []models.MetricTotal) models.CommunityStats {
	var s models.CommunityStats
	for _, t := range totals {
		switch t.ImpactMetric {
		case models.MetricPlastic:
			s.PlasticSaved += t.Total
		case models.MetricEnergy:
			s.KwhSaved += t.Total
		case models.MetricTrees:
			s.TreesPlanted += t.Total
		}
	}
	return s
}

// GroupFinished sums the target of finished join records per impact metric.
// It computes in memory what the store's aggregation pipeline computes, and
// its output is ordered by first appearance.
func GroupFinished(ucs []models.UserChallenge) []models.MetricTotal {
	index := map[string]int{}
	var totals []models.MetricTotal
	for _, uc := range ucs {
		if uc.Status != models.StatusFinished {
			continue
		}
		i, ok := index[uc.ImpactMetric]
		if !ok {
			i = len(totals)
			index[uc.ImpactMetric] = i
			totals = append(totals, models.MetricTotal{ImpactMetric: uc.ImpactMetric})
		}
		totals[i].Total += uc.Target
	}
	return totals
}
