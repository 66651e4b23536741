package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"prep-session-service/internal/domain"
)

// QuestionLoader fetches the question pool for one topic from a backing store.
type QuestionLoader interface {
	LoadTopic(ctx context.Context, topicID string) ([]domain.Question, error)
}

// QuestionCatalog caches per-topic pools in Redis (hash per topic, one field
// per question holding its JSON) and falls back to a loader on cache miss.
// Notes:
//   - A local by-id index is kept in-process so a running session can resolve
//     its questions even after the Redis keys expire.
//   - For true multi-instance lookups you'd pair this with per-question keys;
//     the topic hash is enough for the draw path, which dominates traffic.
type QuestionCatalog struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand

	mu   sync.RWMutex
	byID map[string]domain.Question
}

func NewQuestionCatalog(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionCatalog {
	return &QuestionCatalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		byID:   make(map[string]domain.Question),
	}
}

// EligibleQuestions implements selector.PoolProvider over the Redis cache.
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

// Question implements app.QuestionLookup from the local index.
func (c *QuestionCatalog) Question(_ context.Context, id string) (domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q, ok := c.byID[id]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (c *QuestionCatalog) topic(ctx context.Context, topicID string) ([]domain.Question, error) {
	key := c.topicKey(topicID)

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return c.decodeTopic(fields)
	}

	result, err, _ := c.sf.Do(topicID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return c.decodeTopic(fields)
		}

		questions, err := c.loader.LoadTopic(ctx, topicID)
		if err != nil {
			return nil, err
		}

		pipe := c.client.Pipeline()
		for _, q := range questions {
			raw, err := json.Marshal(q)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, key, q.ID, raw)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		c.index(questions)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCatalog) decodeTopic(fields map[string]string) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(fields))
	for _, raw := range fields {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	c.index(questions)
	return questions, nil
}

func (c *QuestionCatalog) index(questions []domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range questions {
		c.byID[q.ID] = q
	}
}

func (c *QuestionCatalog) topicKey(topicID string) string {
	return "qbank:topic:" + topicID
}

func (c *QuestionCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
