package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/carrier-io/tasknode/internal/logger"
)

const topicPrefix = "tasknode:bus:"

// RedisConfig is the clone_config snapshot for a RedisBus: enough to
// dial an equivalent client inside a freshly spawned child process.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Dial constructs a fresh, unstarted RedisBus from the snapshot.
func (c RedisConfig) Dial() (Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	return NewRedisBus(client, c), nil
}

type topicSub struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	handlers map[Subscription]HandlerFunc
}

// RedisBus implements Bus over Redis Pub/Sub, one channel per topic,
// adapted from the teacher's events.RedisPubSub (which fans out typed
// EventType channels) to the task node's arbitrary topic strings.
type RedisBus struct {
	client *redis.Client
	cfg    RedisConfig

	mu      sync.Mutex
	subs    map[string]*topicSub
	nextSub uint64
	started bool
}

// NewRedisBus wraps an existing Redis client. cfg is kept only so
// CloneConfig can hand it back out verbatim.
func NewRedisBus(client *redis.Client, cfg RedisConfig) *RedisBus {
	return &RedisBus{
		client: client,
		cfg:    cfg,
		subs:   make(map[string]*topicSub),
	}
}

func (r *RedisBus) channelName(topic string) string {
	return topicPrefix + topic
}

func (r *RedisBus) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: redis ping: %w", err)
	}
	r.started = true
	return nil
}

func (r *RedisBus) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, sub := range r.subs {
		sub.cancel()
		sub.pubsub.Close()
		delete(r.subs, topic)
	}
	r.started = false
	return nil
}

func (r *RedisBus) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *RedisBus) Emit(ctx context.Context, topic string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode payload: %w", err)
	}
	if err := r.client.Publish(ctx, r.channelName(topic), data).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	logger.Debug().Str("topic", topic).Msg("bus event emitted")
	return nil
}

func (r *RedisBus) Subscribe(topic string, handler HandlerFunc) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	id := Subscription(r.nextSub)

	if sub, ok := r.subs[topic]; ok {
		sub.handlers[id] = handler
		return id, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, r.channelName(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return 0, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}

	sub := &topicSub{pubsub: pubsub, cancel: cancel, handlers: map[Subscription]HandlerFunc{id: handler}}
	r.subs[topic] = sub

	go r.dispatch(ctx, topic, sub)
	return id, nil
}

func (r *RedisBus) dispatch(ctx context.Context, topic string, sub *topicSub) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				logger.Error().Err(err).Str("topic", topic).Msg("bus: malformed payload dropped")
				continue
			}
			r.mu.Lock()
			handlers := make([]HandlerFunc, 0, len(sub.handlers))
			for _, h := range sub.handlers {
				handlers = append(handlers, h)
			}
			r.mu.Unlock()
			for _, h := range handlers {
				h(ctx, topic, payload)
			}
		}
	}
}

func (r *RedisBus) Unsubscribe(topic string, sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.subs[topic]
	if !ok {
		return nil
	}
	delete(ts.handlers, sub)

	if len(ts.handlers) == 0 {
		ts.cancel()
		ts.pubsub.Close()
		delete(r.subs, topic)
	}
	return nil
}

func (r *RedisBus) CloneConfig() (Config, error) {
	return r.cfg, nil
}
