// Package normalize turns provider activity records into time-ordered,
// de-duplicated canonical events.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/devpulse/internal/domain/dedupe"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

var (
	errMissingID   = errors.New("missing event id")
	errMissingRepo = errors.New("missing repository")
	errUnknownType = errors.New("unknown event type")
	errTimestamp   = errors.New("unparseable timestamp")
	errMissingPR   = errors.New("pull request number required")
)

var typeAliases = map[string]model.EventKind{
	"commit":                        model.KindCommit,
	"commits":                       model.KindCommit,
	"push.commit":                   model.KindCommit,
	"pr_open":                       model.KindPROpen,
	"pr_opened":                     model.KindPROpen,
	"pull_request":                  model.KindPROpen,
	"pull_request.opened":           model.KindPROpen,
	"pr_merge":                      model.KindPRMerge,
	"pr_merged":                     model.KindPRMerge,
	"pull_request.merged":           model.KindPRMerge,
	"review":                        model.KindReview,
	"pull_request_review":           model.KindReview,
	"pull_request_review.submitted": model.KindReview,
	"deploy_proxy":                  model.KindDeployProxy,
	"deployment":                    model.KindDeployProxy,
	"release":                       model.KindDeployProxy,
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Result is the outcome of normalizing one or more batches.
type Result struct {
	Events     []model.CanonicalEvent
	Duplicates int
	Skipped    int
}

// IDs returns the provider ids of the normalized events.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Events))
	for i, e := range r.Events {
		ids[i] = e.ID
	}
	return ids
}

// Normalizer converts RawEvents into CanonicalEvents.
type Normalizer struct {
	log       logger.Logger
	loc       *time.Location
	seenLimit int

	mu   sync.Mutex
	seen map[string]dedupe.Deduper
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		loc:  time.UTC,
		seen: make(map[string]dedupe.Deduper),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Get().Named("normalize")
	}
	return n
}

// Normalize converts the given batches for scope. It keeps no state, so
// normalizing the union of a batch with itself yields the same events.
func (n *Normalizer) Normalize(ctx context.Context, scope string, batches ...[]model.RawEvent) Result {
	return n.run(ctx, scope, dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0)), batches)
}

// Ingest is Normalize with memory: ids returned by an earlier Ingest for the
// same scope are dropped as duplicates.
func (n *Normalizer) Ingest(ctx context.Context, scope string, batches ...[]model.RawEvent) Result {
	return n.run(ctx, scope, n.scopeDeduper(scope), batches)
}

// Unrecord forgets ids so a later Ingest accepts them again.
func (n *Normalizer) Unrecord(ctx context.Context, scope string, ids []string) {
	d := n.scopeDeduper(scope)
	for _, id := range ids {
		d.Unrecord(ctx, id)
	}
}

// Forget drops all remembered ids for scope.
func (n *Normalizer) Forget(scope string) {
	n.mu.Lock()
	delete(n.seen, scope)
	n.mu.Unlock()
}

func (n *Normalizer) scopeDeduper(scope string) dedupe.Deduper {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.seen[scope]
	if !ok {
		d = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(n.seenLimit))
		n.seen[scope] = d
	}
	return d
}

func (n *Normalizer) run(ctx context.Context, scope string, seen dedupe.Deduper, batches [][]model.RawEvent) Result {
	var res Result
	for _, batch := range batches {
		for _, raw := range batch {
			ev, err := n.convert(scope, raw)
			if err != nil {
				res.Skipped++
				n.log.Warn(ctx, "skipping malformed event",
					logger.Scope(scope),
					logger.String("id", raw.ID),
					logger.String("repo", raw.Repo),
					logger.String("type", raw.Type),
					logger.Error(err))
				continue
			}
			if seen.SeenAndRecord(ctx, ev.ID) {
				res.Duplicates++
				continue
			}
			res.Events = append(res.Events, ev)
		}
	}
	sortEvents(res.Events)

	metrics.RecordEventsNormalized(len(res.Events))
	metrics.RecordEventsDuplicate(res.Duplicates)
	metrics.RecordEventsSkipped(res.Skipped)
	return res
}

func (n *Normalizer) convert(scope string, raw model.RawEvent) (model.CanonicalEvent, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return model.CanonicalEvent{}, errMissingID
	}
	repo := strings.TrimSpace(raw.Repo)
	if repo == "" {
		return model.CanonicalEvent{}, errMissingRepo
	}
	kind, ok := typeAliases[strings.ToLower(strings.TrimSpace(raw.Type))]
	if !ok {
		return model.CanonicalEvent{}, fmt.Errorf("%w: %q", errUnknownType, raw.Type)
	}
	ts, err := n.parseTime(raw.Timestamp)
	if err != nil {
		return model.CanonicalEvent{}, err
	}
	if raw.PRNumber <= 0 && (kind == model.KindPROpen || kind == model.KindPRMerge || kind == model.KindReview) {
		return model.CanonicalEvent{}, errMissingPR
	}

	ev := model.CanonicalEvent{
		ID:        id,
		Scope:     scope,
		Repo:      repo,
		Kind:      kind,
		Timestamp: ts,
		Actor:     strings.TrimSpace(raw.Actor),
		Size:      size(raw),
		LinkedPR:  max(raw.PRNumber, 0),
		Files:     compact(raw.Files),
		Issues:    compact(raw.Issues),
	}
	switch kind {
	case model.KindCommit:
		ev.Text = raw.Message
	case model.KindPROpen, model.KindPRMerge:
		ev.Text = strings.TrimSpace(raw.Title + "\n" + raw.Body)
	default:
		ev.Text = strings.TrimSpace(raw.Title + "\n" + raw.Body + "\n" + raw.Message)
	}
	return ev, nil
}

func (n *Normalizer) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errTimestamp
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errTimestamp, s)
}

func size(raw model.RawEvent) *int {
	if raw.Additions == nil && raw.Deletions == nil {
		return nil
	}
	total := 0
	if raw.Additions != nil {
		total += *raw.Additions
	}
	if raw.Deletions != nil {
		total += *raw.Deletions
	}
	if total < 0 {
		return nil
	}
	return &total
}

func compact(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortEvents(events []model.CanonicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

// Merge returns existing ∪ fresh, de-duplicated by id and time-ordered. When
// an id appears in both, the existing event wins.
func Merge(existing, fresh []model.CanonicalEvent) []model.CanonicalEvent {
	out := make([]model.CanonicalEvent, 0, len(existing)+len(fresh))
	ids := make(map[string]struct{}, len(existing)+len(fresh))
	for _, set := range [][]model.CanonicalEvent{existing, fresh} {
		for _, e := range set {
			if _, dup := ids[e.ID]; dup {
				continue
			}
			ids[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out
}

// Prune drops events older than cutoff. Events must be time-ordered.
func Prune(events []model.CanonicalEvent, cutoff time.Time) []model.CanonicalEvent {
	i := sort.Search(len(events), func(i int) bool { return !events[i].Timestamp.Before(cutoff) })
	return events[i:]
}
