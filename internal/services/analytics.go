package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/store"
	"github.com/huangang/reviewiq/pkg/logger"
)

const (
	SLAThresholdMinutes = 240
	MaxTrendDays        = 365
	velocityWindowDays  = 30
	dateLayout          = "2006-01-02"
)

type BranchMetricsRequest struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

type BranchMetrics struct {
	BranchID               string  `json:"branchId"`
	TotalReviews           int     `json:"totalReviews"`
	AverageRating          float64 `json:"averageRating"`
	PositiveCount          int     `json:"positiveCount"`
	NeutralCount           int     `json:"neutralCount"`
	NegativeCount          int     `json:"negativeCount"`
	PositiveRate           float64 `json:"positiveRate"`
	NeutralRate            float64 `json:"neutralRate"`
	NegativeRate           float64 `json:"negativeRate"`
	SentimentScore         float64 `json:"sentimentScore"`
	EscalationCount        int     `json:"escalationCount"`
	EscalationRate         float64 `json:"escalationRate"`
	ResponseCount          int     `json:"responseCount"`
	ResponseRate           float64 `json:"responseRate"`
	AvgResponseTimeMinutes int     `json:"avgResponseTimeMinutes"`
	CSATScore              float64 `json:"csatScore"`
	ReviewVelocityPerDay   float64 `json:"reviewVelocityPerDay"`
}

type DailyMetric struct {
	Date         string  `json:"date"`
	TotalReviews int     `json:"totalReviews"`
	AvgRating    float64 `json:"avgRating"`
	Positive     int     `json:"positive"`
	Neutral      int     `json:"neutral"`
	Negative     int     `json:"negative"`
	Escalations  int     `json:"escalations"`
}

type TrendSeries struct {
	Period       string        `json:"period"`
	DailyMetrics []DailyMetric `json:"dailyMetrics"`
}

type SLAMetrics struct {
	AvgResponseTimeMinutes int     `json:"avgResponseTimeMinutes"`
	SLAThresholdMinutes    int     `json:"slaThresholdMinutes"`
	WithinSLAPercent       float64 `json:"withinSlaPercent"`
	OverdueEscalations     int     `json:"overdueEscalations"`
}

type StaffMetrics struct {
	StaffID                string  `json:"staffId"`
	TotalTaggedReviews     int     `json:"totalTaggedReviews"`
	AvgRating              float64 `json:"avgRating"`
	AvgSentimentScore      float64 `json:"avgSentimentScore"`
	NegativeRate           float64 `json:"negativeRate"`
	EscalationLinked       int     `json:"escalationLinked"`
	ResponseHandled        int     `json:"responseHandled"`
	AvgResponseTimeMinutes int     `json:"avgResponseTimeMinutes"`
}

// AnalyticsService aggregates review facts into dashboard metrics. Results
// are read through cache and may lag writes by up to one TTL.
type AnalyticsService struct {
	store store.Store
	cache MetricsCache
	now   func() time.Time
}

func NewAnalyticsService(s store.Store, cache MetricsCache) *AnalyticsService {
	if cache == nil {
		cache = NoopMetricsCache{}
	}
	return &AnalyticsService{store: s, cache: cache, now: time.Now}
}

// InvalidateExpired drops cache entries past their TTL.
func (s *AnalyticsService) InvalidateExpired() {
	s.cache.DeleteExpired()
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

// sentimentOf treats an unclassified review as neutral.
func sentimentOf(r *models.Review) models.Sentiment {
	if r.Sentiment == nil {
		return models.SentimentNeutral
	}
	return *r.Sentiment
}

// cached returns the value under key, computing and storing it on a miss.
func (s *AnalyticsService) cached(ctx context.Context, query, key string, out interface{}, compute func() (interface{}, error)) error {
	if b, ok := s.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(b, out); err == nil {
			metrics.AnalyticsCache.WithLabelValues(query, "hit").Inc()
			logger.Debug().Str("key", key).Msg("[Analytics] cache hit")
			return nil
		}
	}
	metrics.AnalyticsCache.WithLabelValues(query, "miss").Inc()
	logger.Debug().Str("key", key).Msg("[Analytics] cache miss, computing")

	v, err := compute()
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.cache.Set(ctx, key, b)
	return json.Unmarshal(b, out)
}

func parseDateParam(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: field, Message: "must be a date in YYYY-MM-DD format"}}}
	}
	return &t, nil
}

// GetBranchMetrics summarizes a branch over an optional closed date range.
// The end date covers its whole UTC day.
func (s *AnalyticsService) GetBranchMetrics(ctx context.Context, branchID string, req BranchMetricsRequest) (*BranchMetrics, error) {
	start, err := parseDateParam("startDate", req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDateParam("endDate", req.EndDate)
	if err != nil {
		return nil, err
	}
	if end != nil {
		e := end.Add(24*time.Hour - time.Millisecond)
		end = &e
	}

	key := fmt.Sprintf("branchMetrics_%s_%s_%s", branchID, orAll(req.StartDate), orAll(req.EndDate))
	var out BranchMetrics
	err = s.cached(ctx, "branch", key, &out, func() (interface{}, error) {
		q := store.Query{Where: []store.Predicate{
			store.Eq(store.FieldBranchID, branchID),
			store.Eq(store.FieldIsDeleted, false),
		}}
		if start != nil || end != nil {
			q.Range = &store.TimeRange{Field: store.FieldCreatedAt, From: start, To: end}
		}
		reviews, err := s.store.QueryReviews(ctx, q)
		if err != nil {
			return nil, &StoreError{Op: "query branch reviews", Err: err}
		}
		return s.computeBranchMetrics(branchID, reviews), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func orAll(v string) string {
	if v == "" {
		return "ALL"
	}
	return v
}

func (s *AnalyticsService) computeBranchMetrics(branchID string, reviews []models.Review) *BranchMetrics {
	m := &BranchMetrics{BranchID: branchID}
	total := len(reviews)
	if total == 0 {
		return m
	}

	velocitySince := s.now().UTC().AddDate(0, 0, -velocityWindowDays)
	ratingSum, responseMinutes, recent := 0, 0, 0
	for i := range reviews {
		r := &reviews[i]
		ratingSum += r.Rating
		switch sentimentOf(r) {
		case models.SentimentPositive:
			m.PositiveCount++
		case models.SentimentNegative:
			m.NegativeCount++
		default:
			m.NeutralCount++
		}
		if r.IsEscalated {
			m.EscalationCount++
		}
		if r.ResponseStatus == models.ResponseResponded {
			m.ResponseCount++
			if r.ResponseTimeMinutes != nil {
				responseMinutes += *r.ResponseTimeMinutes
			}
		}
		if !r.CreatedAt.Before(velocitySince) {
			recent++
		}
	}

	m.TotalReviews = total
	m.AverageRating = round1(float64(ratingSum) / float64(total))
	m.PositiveRate = percent(m.PositiveCount, total)
	m.NeutralRate = percent(m.NeutralCount, total)
	m.NegativeRate = percent(m.NegativeCount, total)
	m.SentimentScore = round2(float64(m.PositiveCount-m.NegativeCount) / float64(total))
	m.EscalationRate = percent(m.EscalationCount, total)
	m.ResponseRate = percent(m.ResponseCount, total)
	if m.ResponseCount > 0 {
		m.AvgResponseTimeMinutes = responseMinutes / m.ResponseCount
	}
	m.CSATScore = m.PositiveRate
	m.ReviewVelocityPerDay = round1(float64(recent) / velocityWindowDays)
	return m
}

// GetTimeSeriesTrends buckets the trailing window by UTC creation date.
// Empty days are omitted. Callers cap days at MaxTrendDays.
func (s *AnalyticsService) GetTimeSeriesTrends(ctx context.Context, branchID string, days int) (*TrendSeries, error) {
	key := fmt.Sprintf("trends_%s_%d", branchID, days)
	var out TrendSeries
	err := s.cached(ctx, "trends", key, &out, func() (interface{}, error) {
		since := s.now().UTC().AddDate(0, 0, -days)
		reviews, err := s.store.QueryReviews(ctx, store.Query{
			Where: []store.Predicate{
				store.Eq(store.FieldBranchID, branchID),
				store.Eq(store.FieldIsDeleted, false),
			},
			Range: &store.TimeRange{Field: store.FieldCreatedAt, From: &since},
		})
		if err != nil {
			return nil, &StoreError{Op: "query trend reviews", Err: err}
		}
		return buildTrends(days, reviews), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func buildTrends(days int, reviews []models.Review) *TrendSeries {
	type bucket struct {
		DailyMetric
		ratingSum int
	}
	buckets := map[string]*bucket{}
	for i := range reviews {
		r := &reviews[i]
		date := r.CreatedAt.UTC().Format(dateLayout)
		b, ok := buckets[date]
		if !ok {
			b = &bucket{DailyMetric: DailyMetric{Date: date}}
			buckets[date] = b
		}
		b.TotalReviews++
		b.ratingSum += r.Rating
		switch sentimentOf(r) {
		case models.SentimentPositive:
			b.Positive++
		case models.SentimentNegative:
			b.Negative++
		default:
			b.Neutral++
		}
		if r.IsEscalated {
			b.Escalations++
		}
	}

	series := make([]DailyMetric, 0, len(buckets))
	for _, b := range buckets {
		b.AvgRating = round1(float64(b.ratingSum) / float64(b.TotalReviews))
		series = append(series, b.DailyMetric)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })

	return &TrendSeries{Period: fmt.Sprintf("%dd", days), DailyMetrics: series}
}

// GetSlaMetrics measures response latency against the fixed 240 minute bar.
func (s *AnalyticsService) GetSlaMetrics(ctx context.Context, branchID string) (*SLAMetrics, error) {
	key := "sla_" + branchID
	var out SLAMetrics
	err := s.cached(ctx, "sla", key, &out, func() (interface{}, error) {
		reviews, err := s.store.QueryReviews(ctx, store.Query{Where: []store.Predicate{
			store.Eq(store.FieldBranchID, branchID),
			store.Eq(store.FieldIsDeleted, false),
			store.Eq(store.FieldResponseStatus, models.ResponseResponded),
		}})
		if err != nil {
			return nil, &StoreError{Op: "query responded reviews", Err: err}
		}
		return computeSLA(reviews), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func computeSLA(reviews []models.Review) *SLAMetrics {
	m := &SLAMetrics{SLAThresholdMinutes: SLAThresholdMinutes}
	if len(reviews) == 0 {
		return m
	}

	sum, within := 0, 0
	for i := range reviews {
		minutes := 0
		if reviews[i].ResponseTimeMinutes != nil {
			minutes = *reviews[i].ResponseTimeMinutes
		}
		sum += minutes
		if minutes <= SLAThresholdMinutes {
			within++
		} else if reviews[i].IsEscalated {
			m.OverdueEscalations++
		}
	}
	m.AvgResponseTimeMinutes = sum / len(reviews)
	m.WithinSLAPercent = percent(within, len(reviews))
	return m
}

// GetStaffMetrics profiles the reviews tagged to one staff member and the
// responses they wrote.
func (s *AnalyticsService) GetStaffMetrics(ctx context.Context, staffID string) (*StaffMetrics, error) {
	key := "staff_" + staffID
	var out StaffMetrics
	err := s.cached(ctx, "staff", key, &out, func() (interface{}, error) {
		reviews, err := s.store.QueryReviews(ctx, store.Query{Where: []store.Predicate{
			store.Eq(store.FieldStaffTagged, staffID),
			store.Eq(store.FieldIsDeleted, false),
		}})
		if err != nil {
			return nil, &StoreError{Op: "query staff reviews", Err: err}
		}
		m := &StaffMetrics{StaffID: staffID}
		if len(reviews) == 0 {
			return m, nil
		}

		responses, err := s.store.QueryResponses(ctx, store.Query{Where: []store.Predicate{
			store.Eq(store.FieldRespondedBy, staffID),
		}})
		if err != nil {
			return nil, &StoreError{Op: "query staff responses", Err: err}
		}

		ratingSum, score, negative := 0, 0, 0
		for i := range reviews {
			ratingSum += reviews[i].Rating
			switch sentimentOf(&reviews[i]) {
			case models.SentimentPositive:
				score++
			case models.SentimentNegative:
				score--
				negative++
			}
			if reviews[i].IsEscalated {
				m.EscalationLinked++
			}
		}
		total := len(reviews)
		m.TotalTaggedReviews = total
		m.AvgRating = round1(float64(ratingSum) / float64(total))
		m.AvgSentimentScore = round2(float64(score) / float64(total))
		m.NegativeRate = percent(negative, total)

		m.ResponseHandled = len(responses)
		if len(responses) > 0 {
			minutes := 0
			for _, r := range responses {
				minutes += r.ResponseTimeMinutes
			}
			m.AvgResponseTimeMinutes = minutes / len(responses)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
