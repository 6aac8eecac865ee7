// Package news holds the feature side of the news pipeline: precomputed
// per-article sentiment rows and their aggregation into the feature vector
// fed to strategies. Fetching and scoring articles is a collaborator concern;
// this package only consumes rows already in the store.
package news

import "time"

// Item is one scored news article as stored by the ingest collaborator.
type Item struct {
	Sentiment    float64
	SourceWeight float64
	PublishedAt  time.Time
	ObservedAt   time.Time
}

// AvailableAt is the earliest moment a decision may use this item: the later
// of when our system observed it and when it became public plus the modeled
// publication latency. This is the single mechanism preventing look-ahead
// bias in backtests.
func (it Item) AvailableAt(latency time.Duration) time.Time {
	published := it.PublishedAt.Add(latency)
	if published.After(it.ObservedAt) {
		return published
	}
	return it.ObservedAt
}

// Features is the aggregate vector handed to strategies.
type Features struct {
	SentimentWeighted float64 `json:"sentiment_weighted"`
	NewsCount         int     `json:"news_count"`
	PositiveCount     int     `json:"positive_count"`
	NegativeCount     int     `json:"negative_count"`
	AvgSourceWeight   float64 `json:"avg_source_weight"`
}

// Aggregate reduces a point-in-time item set to a feature vector. The
// weighted sentiment divides by max(sum |weight|, 1) so a handful of
// low-weight sources cannot blow up the score.
func Aggregate(items []Item) Features {
	f := Features{NewsCount: len(items)}
	if len(items) == 0 {
		return f
	}

	var weighted, weightTotal float64
	for _, it := range items {
		weighted += it.Sentiment * it.SourceWeight
		if it.SourceWeight < 0 {
			weightTotal += -it.SourceWeight
		} else {
			weightTotal += it.SourceWeight
		}
		if it.Sentiment > 0 {
			f.PositiveCount++
		} else if it.Sentiment < 0 {
			f.NegativeCount++
		}
	}
	denom := weightTotal
	if denom < 1.0 {
		denom = 1.0
	}
	f.SentimentWeighted = weighted / denom
	f.AvgSourceWeight = weightTotal / float64(len(items))
	return f
}

// Sentiment is shorthand for the weighted sentiment of an item set.
func Sentiment(items []Item) float64 {
	return Aggregate(items).SentimentWeighted
}

// WindowFilter keeps items published inside [cutoff-lookback, cutoff] that
// were also available by cutoff.
func WindowFilter(items []Item, cutoff time.Time, lookback, latency time.Duration) []Item {
	start := cutoff.Add(-lookback)
	var out []Item
	for _, it := range items {
		if it.PublishedAt.Before(start) || it.PublishedAt.After(cutoff) {
			continue
		}
		if it.AvailableAt(latency).After(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}
