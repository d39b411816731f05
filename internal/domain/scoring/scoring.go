// Package scoring turns computed metrics into a weighted 0-100 grade.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/devpulse/internal/domain/model"
)

// Category names.
const (
	CategoryDORA          = "dora"
	CategoryQuality       = "quality"
	CategoryProductivity  = "productivity"
	CategoryCollaboration = "collaboration"
)

// Share of a category's maximum that marks a strength or an improvement area.
const (
	strengthRatio    = 0.8
	improvementRatio = 0.7
)

// Input abstracts the metrics needed for grading.
type Input struct {
	DORA          model.DORAMetrics
	Quality       model.QualityMetrics
	Productivity  model.ProductivityMetrics
	Collaboration model.CollaborationMetrics
}

// Scorer computes a grade from metrics.
type Scorer interface {
	// Score computes a grade, honoring ctx for cancellation.
	Score(ctx context.Context, in Input) (model.Grade, error)
}

// Option applies a configuration option to the Grader.
type Option func(*Grader)

// WithCutoffs replaces the letter cutoffs. Cutoffs must be ordered from the
// highest minimum score down.
func WithCutoffs(cutoffs []Cutoff) Option {
	return func(g *Grader) {
		if len(cutoffs) > 0 {
			g.cutoffs = append([]Cutoff(nil), cutoffs...)
		}
	}
}

// Cutoff maps a minimum score to a letter.
type Cutoff struct {
	Min    float64
	Letter string
}

// DefaultCutoffs returns the letter scale, best first.
func DefaultCutoffs() []Cutoff {
	return []Cutoff{
		{Min: 90, Letter: "A+"},
		{Min: 85, Letter: "A"},
		{Min: 80, Letter: "B+"},
		{Min: 75, Letter: "B"},
		{Min: 70, Letter: "C+"},
		{Min: 65, Letter: "C"},
		{Min: 60, Letter: "D"},
	}
}

// failingLetter is assigned below the lowest cutoff.
const failingLetter = "F"

// Grader implements Scorer with the DORA 40 / Quality 25 / Productivity 20 /
// Collaboration 15 point scheme.
type Grader struct {
	cutoffs []Cutoff
}

// NewGrader creates a Grader.
func NewGrader(opts ...Option) *Grader {
	g := &Grader{cutoffs: DefaultCutoffs()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Letter maps a 0-100 score to its letter grade.
func (g *Grader) Letter(score float64) string {
	for _, c := range g.cutoffs {
		if score >= c.Min {
			return c.Letter
		}
	}
	return failingLetter
}

// Score grades the metrics. Sub-scores whose input is not computable are
// left out of both the earned points and the maximum.
func (g *Grader) Score(ctx context.Context, in Input) (model.Grade, error) {
	if err := ctx.Err(); err != nil {
		return model.Grade{}, fmt.Errorf("context cancelled: %w", err)
	}

	cats := []model.CategoryScore{
		doraScore(in.DORA),
		qualityScore(in.Quality),
		productivityScore(in.Productivity),
		collaborationScore(in.Collaboration),
	}

	var earned, possible float64
	grade := model.Grade{}
	for _, c := range cats {
		if c.Max == 0 {
			continue
		}
		grade.Categories = append(grade.Categories, c)
		earned += c.Points
		possible += c.Max
		ratio := c.Points / c.Max
		switch {
		case ratio >= strengthRatio:
			grade.Strengths = append(grade.Strengths, c.Name)
		case ratio < improvementRatio:
			grade.Improvements = append(grade.Improvements, c.Name)
		}
	}
	if possible == 0 {
		grade.Status = model.StatusInsufficient
		return grade, nil
	}
	score := earned / possible * 100
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return model.Grade{Status: model.StatusError}, fmt.Errorf("%w: grade score %v", model.ErrComputation, score)
	}
	grade.Status = model.StatusOK
	grade.Score = math.Round(score*10) / 10
	grade.Letter = g.Letter(grade.Score)
	return grade, nil
}
