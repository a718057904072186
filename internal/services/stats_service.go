// Package services – StatsService
//
// This file turns scattered per-user solve scores into a normalized,
// outlier-trimmed histogram for chart rendering. Each user's solves are
// weighted 1/(2+k) where k is that user's solve count, flattening the
// contribution of prolific users to the aggregate distribution. Scores are
// stably sorted, a proportional slice is trimmed from both ends above a
// fixed size threshold, and weights are linearly interpolated between
// adjacent bins to avoid hard boundary artifacts.
//
// Documented algorithm choices (two historical variants existed): trim
// threshold 28, domain headroom factor 1.1, DNF solves excluded.
package services

import (
	"context"
	"math"
	"sort"

	"gorm.io/gorm"

	"github.com/tbourn/go-loopover-backend/internal/domain"
	"github.com/tbourn/go-loopover-backend/internal/repo"
)

// ScoreKind selects the measured dimension of a statistics query.
type ScoreKind string

// Supported score kinds.
const (
	// ScoreTime measures total solve time in seconds.
	ScoreTime ScoreKind = "time"
	// ScoreMoves measures the number of moves in a solve.
	ScoreMoves ScoreKind = "moves"
)

// Histogram is the chart-ready aggregation result. Labels are ascending
// bin left-edges; Data holds the matching bin weights normalized to [0,1].
type Histogram struct {
	Labels []int     `json:"labels"`
	Data   []float64 `json:"data"`
}

// trimThreshold is the score count above which outliers are cut. 28 is the
// historical transition point; below it every score is kept.
const trimThreshold = 28

// scored is one (score, weight) pair flattened out of a user's solve group.
type scored struct {
	score  float64
	weight float64
}

// StatsService aggregates all users' solves for an event into a Histogram.
type StatsService struct {
	// DB is the GORM handle used for queries.
	DB *gorm.DB
}

// NewStatsService constructs a StatsService.
func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// Aggregate computes the normalized score histogram for event over the
// chosen dimension. With fewer than 2 qualifying scores it returns an
// explicit empty histogram rather than an error: "insufficient data" is a
// valid answer for a sparse event.
func (s *StatsService) Aggregate(ctx context.Context, event string, kind ScoreKind) (*Histogram, error) {
	if kind != ScoreTime && kind != ScoreMoves {
		return nil, ErrUnknownScoreKind
	}

	solves, err := repo.ListEventSolves(ctx, s.DB, event)
	if err != nil {
		return nil, err
	}

	scores := collectScores(groupByUser(solves), kind)
	if len(scores) < 2 {
		return &Histogram{Labels: []int{}, Data: []float64{}}, nil
	}

	// Stable sort keeps insertion order for equal scores, making the
	// result deterministic for a fixed input multiset.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })
	scores = trimOutliers(scores)

	start, end, step := binRange(scores[0].score, scores[len(scores)-1].score)
	nbins := (end - start + 2*step - 1) / step // ceil((end-start+step)/step)

	labels := make([]int, nbins)
	for i := range labels {
		labels[i] = start + i*step
	}

	data := normalize(interpolate(scores, start, step, nbins))
	return &Histogram{Labels: labels, Data: data}, nil
}

// groupByUser buckets solves per owner. The repository returns rows
// ordered by user, but grouping by map keeps the function total for any
// input order.
func groupByUser(solves []domain.Solve) map[string][]domain.Solve {
	groups := make(map[string][]domain.Solve)
	for _, s := range solves {
		groups[s.UserID] = append(groups[s.UserID], s)
	}
	return groups
}

// collectScores flattens the per-user groups into (score, weight) pairs.
// A user with k solves contributes each of them at weight 1/(2+k), so
// doubling one user's solve count strictly lowers their per-solve weight.
// Iteration over users is sorted to keep output order deterministic.
func collectScores(groups map[string][]domain.Solve, kind ScoreKind) []scored {
	users := make([]string, 0, len(groups))
	for u := range groups {
		users = append(users, u)
	}
	sort.Strings(users)

	var out []scored
	for _, u := range users {
		group := groups[u]
		weight := 1 / float64(2+len(group))
		for _, s := range group {
			score := float64(s.Time) / 1000
			if kind == ScoreMoves {
				score = float64(len(s.Moves))
			}
			out = append(out, scored{score: score, weight: weight})
		}
	}
	return out
}

// trimOutliers drops a proportional slice from both ends of the sorted
// score list once it exceeds trimThreshold entries: lim = ceil(n/28),
// cutting int(0.7*lim) from the low end and lim from the high end. Below
// the threshold the input is returned untouched.
func trimOutliers(scores []scored) []scored {
	n := len(scores)
	if n <= trimThreshold {
		return scores
	}
	lim := int(math.Ceil(float64(n) / trimThreshold))
	lo := int(float64(lim) * 0.7)
	return scores[lo : n-lim]
}

// binRange computes the histogram domain: the low edge is 90% of the
// minimum score floored, the high edge is the maximum score with 10%
// headroom ceiled, and the step targets roughly 12 bins, never below 1.
func binRange(minScore, maxScore float64) (start, end, step int) {
	start = int(math.Floor(minScore * 0.9))
	end = int(math.Ceil(maxScore * 1.1))
	step = int(math.Round(0.5 + float64(end-start)/12))
	if step < 1 {
		step = 1
	}
	return start, end, step
}

// interpolate accumulates each score's weight into the bin buffer,
// splitting between the two adjacent bins in proportion to the fractional
// bin position. A score landing exactly on a bin edge goes entirely to
// that bin; positions past the last bin clamp onto it.
func interpolate(scores []scored, start, step, nbins int) []float64 {
	data := make([]float64, nbins)
	for _, sc := range scores {
		x := (sc.score - float64(start)) / float64(step)
		if x < 0 {
			x = 0
		}
		if limit := float64(nbins - 1); x > limit {
			x = limit
		}
		i := int(x)
		frac := x - float64(i)
		data[i] += (1 - frac) * sc.weight
		data[i+int(math.Ceil(frac))] += frac * sc.weight
	}
	return data
}

// normalize scales bins by the maximum bin weight so values land in
// [0, 1]. An all-zero buffer is returned unchanged to avoid dividing by
// zero (cannot happen with >=2 surviving scores, but guard regardless).
func normalize(data []float64) []float64 {
	var max float64
	for _, v := range data {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return data
	}
	for i := range data {
		data[i] /= max
	}
	return data
}
