// Package selector draws the question set for one session from the
// question-bank collaborator, honoring per-type quotas.
package selector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"prep-session-service/internal/domain"
)

// PoolProvider returns questions eligible for selection. Eligibility rules
// such as "usable in interview" or reuse-cooldown exclusion live in the
// provider; the selector only passes the exclusion list through.
type PoolProvider interface {
	EligibleQuestions(ctx context.Context, topicIDs []string, levels []domain.QuestionLevel, qtype domain.QuestionType, excludeIDs []string) ([]domain.Question, error)
}

// Selection is the outcome of one draw: the ordered question set plus any
// per-bucket shortfall. A short draw is reported, not failed; the caller
// decides whether a short session is acceptable.
type Selection struct {
	Questions    []domain.Question
	ShortSingle  int
	ShortMulti   int
	ShortWritten int
}

// Short reports whether any bucket delivered fewer questions than requested.
func (s Selection) Short() bool {
	return s.ShortSingle > 0 || s.ShortMulti > 0 || s.ShortWritten > 0
}

// QuestionIDs returns the drawn ids in session order.
func (s Selection) QuestionIDs() []string {
	ids := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}

// Selector draws questions uniformly at random without replacement.
type Selector struct {
	pool PoolProvider

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(pool PoolProvider) *Selector {
	return &Selector{
		pool: pool,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithSeed is test-only for deterministic draws.
func NewWithSeed(pool PoolProvider, seed int64) *Selector {
	return &Selector{
		pool: pool,
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

// Select builds the question sequence for one session. Each type bucket is
// drawn independently; a bucket with too few eligible questions contributes
// everything it has and the shortfall is recorded. Only a draw that yields
// zero questions across all buckets fails, with the per-bucket shortfall
// attached so an admin can fix the template.
func (s *Selector) Select(ctx context.Context, criteria domain.SelectionCriteria, excludeIDs []string) (Selection, error) {
	if err := criteria.Validate(); err != nil {
		return Selection{}, err
	}

	var sel Selection
	buckets := []struct {
		qtype domain.QuestionType
		count int
		short *int
	}{
		{domain.QuestionSingleChoice, criteria.CountSingle, &sel.ShortSingle},
		{domain.QuestionMultiChoice, criteria.CountMulti, &sel.ShortMulti},
		{domain.QuestionWritten, criteria.CountWritten, &sel.ShortWritten},
	}

	for _, bucket := range buckets {
		if bucket.count == 0 {
			continue
		}
		eligible, err := s.pool.EligibleQuestions(ctx, criteria.TopicIDs, criteria.Levels, bucket.qtype, excludeIDs)
		if err != nil {
			return Selection{}, err
		}
		drawn := s.draw(eligible, bucket.count)
		if missing := bucket.count - len(drawn); missing > 0 {
			*bucket.short = missing
		}
		sel.Questions = append(sel.Questions, drawn...)
	}

	if criteria.Total() > 0 && len(sel.Questions) == 0 {
		return Selection{}, &domain.PoolShortfallError{
			MissingSingle:  criteria.CountSingle,
			MissingMulti:   criteria.CountMulti,
			MissingWritten: criteria.CountWritten,
		}
	}

	// Interleave the buckets so a session doesn't run strictly
	// single-then-multi-then-written. The order is fixed from here on.
	s.shuffle(sel.Questions)
	return sel, nil
}

// draw picks n questions uniformly without replacement; fewer if the pool is short.
func (s *Selector) draw(pool []domain.Question, n int) []domain.Question {
	shuffled := make([]domain.Question, len(pool))
	copy(shuffled, pool)
	s.shuffle(shuffled)
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func (s *Selector) shuffle(qs []domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd.Shuffle(len(qs), func(i, j int) {
		qs[i], qs[j] = qs[j], qs[i]
	})
}
