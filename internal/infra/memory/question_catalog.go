package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"prep-session-service/internal/domain"
)

// QuestionLoader fetches the question pool for one topic from a backing
// store (Postgres in production).
type QuestionLoader interface {
	LoadTopic(ctx context.Context, topicID string) ([]domain.Question, error)
}

// QuestionCatalog caches per-topic question pools with TTL to avoid repeated
// DB hits during session starts. It serves both the selector's pool queries
// and the engine's by-id lookups.
type QuestionCatalog struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedTopic
	// byID survives topic-cache expiry: a running session may outlive the
	// TTL and still needs its questions resolvable.
	byID map[string]domain.Question
}

type cachedTopic struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCatalog(loader QuestionLoader, ttl time.Duration) *QuestionCatalog {
	return &QuestionCatalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTopic),
		byID:   make(map[string]domain.Question),
	}
}

// EligibleQuestions implements selector.PoolProvider: per-topic pools are
// loaded (through the cache), then filtered by level, type and the
// exclusion list.
func (c *QuestionCatalog) EligibleQuestions(ctx context.Context, topicIDs []string, levels []domain.QuestionLevel, qtype domain.QuestionType, excludeIDs []string) ([]domain.Question, error) {
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	levelSet := make(map[domain.QuestionLevel]struct{}, len(levels))
	for _, level := range levels {
		levelSet[level] = struct{}{}
	}

	var out []domain.Question
	for _, topicID := range topicIDs {
		pool, err := c.topic(ctx, topicID)
		if err != nil {
			return nil, err
		}
		for _, q := range pool {
			if q.Type != qtype {
				continue
			}
			if len(levelSet) > 0 {
				if _, ok := levelSet[q.Level]; !ok {
					continue
				}
			}
			if _, ok := excluded[q.ID]; ok {
				continue
			}
			out = append(out, q)
		}
	}
	return out, nil
}

// Question implements app.QuestionLookup.
func (c *QuestionCatalog) Question(_ context.Context, id string) (domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q, ok := c.byID[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (c *QuestionCatalog) topic(ctx context.Context, topicID string) ([]domain.Question, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[topicID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(topicID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[topicID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		questions, err := c.loader.LoadTopic(ctx, topicID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[topicID] = cachedTopic{
			questions: questions,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		for _, q := range questions {
			c.byID[q.ID] = q
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map, useful for
// tests and demo mode.
type StaticQuestionLoader struct {
	topics map[string][]domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	topics := make(map[string][]domain.Question)
	for _, q := range questions {
		topics[q.TopicID] = append(topics[q.TopicID], q)
	}
	return &StaticQuestionLoader{topics: topics}
}

func (l *StaticQuestionLoader) LoadTopic(_ context.Context, topicID string) ([]domain.Question, error) {
	return l.topics[topicID], nil
}
