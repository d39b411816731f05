// Package model contains domain models passed between layers.
package model

import "time"

// EventKind classifies a canonical activity event.
type EventKind string

// Canonical event kinds.
const (
	KindCommit      EventKind = "commit"
	KindPROpen      EventKind = "pr_open"
	KindPRMerge     EventKind = "pr_merge"
	KindReview      EventKind = "review"
	KindDeployProxy EventKind = "deploy_proxy"
)

// Valid reports whether k is one of the canonical kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindCommit, KindPROpen, KindPRMerge, KindReview, KindDeployProxy:
		return true
	}
	return false
}

// IsDeployment reports whether the event is evidence of a deploy when
// attributing failures. Deployment frequency counts merges alone.
func (k EventKind) IsDeployment() bool {
	return k == KindPRMerge || k == KindDeployProxy
}

// RawEvent is an activity record as delivered by a provider. Fields are
// loosely typed; the normalizer decides what is usable.
type RawEvent struct {
	ID        string   `json:"id"`
	Repo      string   `json:"repo"`
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Actor     string   `json:"actor,omitempty"`
	Title     string   `json:"title,omitempty"`
	Body      string   `json:"body,omitempty"`
	Message   string   `json:"message,omitempty"`
	Additions *int     `json:"additions,omitempty"`
	Deletions *int     `json:"deletions,omitempty"`
	PRNumber  int      `json:"pr_number,omitempty"`
	Files     []string `json:"files,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

// CanonicalEvent is the immutable, provider-independent form of an event.
type CanonicalEvent struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Repo      string    `json:"repo"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	// Size is changed lines (additions + deletions); nil when unknown.
	Size     *int     `json:"size,omitempty"`
	Text     string   `json:"text,omitempty"`
	LinkedPR int      `json:"linked_pr,omitempty"`
	Files    []string `json:"files,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// PRKey identifies a pull request across repositories of a scope.
type PRKey struct {
	Repo   string
	Number int
}

// PR returns the pull request key the event belongs to, if any.
func (e CanonicalEvent) PR() (PRKey, bool) {
	if e.LinkedPR <= 0 {
		return PRKey{}, false
	}
	return PRKey{Repo: e.Repo, Number: e.LinkedPR}, true
}
