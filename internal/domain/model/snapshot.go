package model

import "time"

// Status labels every computed metric; nothing defaults to zero silently.
type Status string

// Metric statuses.
const (
	StatusOK           Status = "ok"
	StatusInsufficient Status = "insufficient_data"
	StatusError        Status = "error"
)

// Tier is a DORA performance band.
type Tier string

// DORA tiers, best first.
const (
	TierElite  Tier = "elite"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Trend compares a window against the one before it.
type Trend struct {
	Status    Status  `json:"status"`
	Direction string  `json:"direction,omitempty"`
	Current   float64 `json:"current"`
	Prior     float64 `json:"prior"`
	ChangePct float64 `json:"change_pct"`
}

// LeadTime reports staged lead-time means over the window, in hours.
type LeadTime struct {
	Status      Status  `json:"status"`
	Error       string  `json:"error,omitempty"`
	Samples     int     `json:"samples"`
	CodeHours   float64 `json:"code_hours"`
	ReviewHours float64 `json:"review_hours"`
	MergeHours  float64 `json:"merge_hours"`
	TotalHours  float64 `json:"total_hours"`
	P50Hours    float64 `json:"p50_hours"`
	P90Hours    float64 `json:"p90_hours"`
	P95Hours    float64 `json:"p95_hours"`
	Tier        Tier    `json:"tier,omitempty"`
	Trend       Trend   `json:"trend"`
}

// DeploymentFrequency reports merge cadence over the window.
type DeploymentFrequency struct {
	Status      Status  `json:"status"`
	Error       string  `json:"error,omitempty"`
	Deployments int     `json:"deployments"`
	PerDay      float64 `json:"per_day"`
	PerWeek     float64 `json:"per_week"`
	// Weekly holds deployment counts per week, oldest first.
	Weekly []int   `json:"weekly"`
	SMA4   float64 `json:"sma4"`
	Tier   Tier    `json:"tier,omitempty"`
	Trend  Trend   `json:"trend"`
}

// ChangeFailureRate reports the share of merges classified as failures.
type ChangeFailureRate struct {
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Merges     int            `json:"merges"`
	Failures   int            `json:"failures"`
	RatePct    float64        `json:"rate_pct"`
	ByCategory map[string]int `json:"by_category,omitempty"`
	FailedPRs  []int          `json:"failed_prs,omitempty"`
	Tier       Tier           `json:"tier,omitempty"`
}

// MTTR reports recovery time for failures, in hours.
type MTTR struct {
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Incidents int     `json:"incidents"`
	Resolved  int     `json:"resolved"`
	Open      int     `json:"open"`
	MeanHours float64 `json:"mean_hours"`
	P50Hours  float64 `json:"p50_hours"`
	P90Hours  float64 `json:"p90_hours"`
	P95Hours  float64 `json:"p95_hours"`
	Tier      Tier    `json:"tier,omitempty"`
}

// DORAMetrics bundles the four DORA measures for one window.
type DORAMetrics struct {
	WindowStart         time.Time           `json:"window_start"`
	WindowEnd           time.Time           `json:"window_end"`
	LeadTime            LeadTime            `json:"lead_time"`
	DeploymentFrequency DeploymentFrequency `json:"deployment_frequency"`
	ChangeFailureRate   ChangeFailureRate   `json:"change_failure_rate"`
	MTTR                MTTR                `json:"mttr"`
}

// ReviewCoverage is the share of pull requests with at least one review.
type ReviewCoverage struct {
	Status   Status  `json:"status"`
	PRs      int     `json:"prs"`
	Reviewed int     `json:"reviewed"`
	Pct      float64 `json:"pct"`
}

// CommitSizes is the commit-size distribution over commits with a known size.
type CommitSizes struct {
	Status            Status  `json:"status"`
	Sized             int     `json:"sized"`
	Small             int     `json:"small"`
	Medium            int     `json:"medium"`
	Large             int     `json:"large"`
	SmallPct          float64 `json:"small_pct"`
	MediumPct         float64 `json:"medium_pct"`
	LargePct          float64 `json:"large_pct"`
	AvgLines          float64 `json:"avg_lines"`
	FileSamples       int     `json:"file_samples"`
	AvgFilesPerCommit float64 `json:"avg_files_per_commit"`
}

// QualityMetrics covers review coverage and commit sizing.
type QualityMetrics struct {
	ReviewCoverage ReviewCoverage `json:"review_coverage"`
	CommitSizes    CommitSizes    `json:"commit_sizes"`
}

// ProductivityMetrics covers work patterns and commit streaks.
type ProductivityMetrics struct {
	Status             Status         `json:"status"`
	Commits            int            `json:"commits"`
	WeekendPct         float64        `json:"weekend_pct"`
	LateNightPct       float64        `json:"late_night_pct"`
	WorkPatternScore   float64        `json:"work_pattern_score"`
	Streak             int            `json:"streak"`
	ActiveDays         int            `json:"active_days"`
	MostProductiveDay  string         `json:"most_productive_day,omitempty"`
	MostProductiveHour int            `json:"most_productive_hour"`
	ByWeekday          map[string]int `json:"by_weekday,omitempty"`
}

// CollaborationMetrics covers review participation and responsiveness.
type CollaborationMetrics struct {
	Status            Status  `json:"status"`
	Reviews           int     `json:"reviews"`
	DistinctReviewers int     `json:"distinct_reviewers"`
	DistinctAuthors   int     `json:"distinct_authors"`
	ReviewsPerPR      float64 `json:"reviews_per_pr"`
	ResponseStatus    Status  `json:"response_status"`
	ResponseHours     float64 `json:"response_hours"`
}

// CategoryScore is one weighted component of a grade.
type CategoryScore struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Max    float64 `json:"max"`
}

// Grade is the composite 0-100 score and its letter.
type Grade struct {
	Status       Status          `json:"status"`
	Score        float64         `json:"score"`
	Letter       string          `json:"letter,omitempty"`
	Categories   []CategoryScore `json:"categories,omitempty"`
	Strengths    []string        `json:"strengths,omitempty"`
	Improvements []string        `json:"improvements,omitempty"`
}

// MetricSnapshot is the immutable result of one scope recompute.
type MetricSnapshot struct {
	Scope         string               `json:"scope"`
	Timestamp     time.Time            `json:"timestamp"`
	DORA          DORAMetrics          `json:"dora"`
	Quality       QualityMetrics       `json:"quality"`
	Productivity  ProductivityMetrics  `json:"productivity"`
	Collaboration CollaborationMetrics `json:"collaboration"`
	Grade         Grade                `json:"grade"`
	Partial       bool                 `json:"partial"`
	PartialRepos  []string             `json:"partial_repos,omitempty"`
	EventCount    int                  `json:"event_count"`
}

// Series names extracted from snapshots for anomaly detection and forecasting.
const (
	SeriesLeadTime    = "lead_time_hours"
	SeriesDeploysWeek = "deploys_per_week"
	SeriesFailureRate = "change_failure_rate"
	SeriesMTTR        = "mttr_hours"
	SeriesReviewCover = "review_coverage"
	SeriesWorkPattern = "work_pattern_score"
	SeriesGradeScore  = "grade_score"
	SeriesCommits     = "commits"
)

// SeriesNames lists tracked series in a stable order.
var SeriesNames = []string{
	SeriesLeadTime,
	SeriesDeploysWeek,
	SeriesFailureRate,
	SeriesMTTR,
	SeriesReviewCover,
	SeriesWorkPattern,
	SeriesGradeScore,
	SeriesCommits,
}

// Value returns the named series value; ok is false when the metric was not
// computable in this snapshot.
func (s MetricSnapshot) Value(name string) (float64, bool) {
	switch name {
	case SeriesLeadTime:
		return s.DORA.LeadTime.TotalHours, s.DORA.LeadTime.Status == StatusOK
	case SeriesDeploysWeek:
		return s.DORA.DeploymentFrequency.PerWeek, s.DORA.DeploymentFrequency.Status == StatusOK
	case SeriesFailureRate:
		return s.DORA.ChangeFailureRate.RatePct, s.DORA.ChangeFailureRate.Status == StatusOK
	case SeriesMTTR:
		return s.DORA.MTTR.MeanHours, s.DORA.MTTR.Status == StatusOK
	case SeriesReviewCover:
		return s.Quality.ReviewCoverage.Pct, s.Quality.ReviewCoverage.Status == StatusOK
	case SeriesWorkPattern:
		return s.Productivity.WorkPatternScore, s.Productivity.Status == StatusOK
	case SeriesGradeScore:
		return s.Grade.Score, s.Grade.Status == StatusOK
	case SeriesCommits:
		return float64(s.Productivity.Commits), s.Productivity.Status == StatusOK
	}
	return 0, false
}
