package session

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Consumer is a client-side identity observed through status polling.
// Plex and other players invent ids and poll them before, during, and
// after the session that eventually carries the media, so consumers
// materialize on first sight rather than being created explicitly.
type Consumer struct {
	ID        string
	Origin    string
	UserAgent string
	CreatedAt time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	channelID string
	adopted   bool
}

// ConsumerInfo is the JSON shape of a consumer for the monitor API.
type ConsumerInfo struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin"`
	UserAgent  string    `json:"user_agent,omitempty"`
	ChannelID  string    `json:"channel_id,omitempty"`
	Adopted    bool      `json:"adopted"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ConsumerManager is the single source of truth for which polled ids are
// alive. Un-adopted consumers expire after the idle TTL; adopted ones live
// as long as their session does.
type ConsumerManager struct {
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	consumers map[string]*Consumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumerManager creates a consumer manager with the given idle TTL.
func NewConsumerManager(ttl time.Duration, logger *slog.Logger) *ConsumerManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ConsumerManager{
		ttl:       ttl,
		logger:    logger,
		consumers: make(map[string]*Consumer),
	}
}

// Touch materializes the consumer on first sight and refreshes its
// last-activity on every subsequent poll. The origin recorded is the
// endpoint that first saw the id; later polls through other endpoints
// keep it.
func (m *ConsumerManager) Touch(id, origin, userAgent string) *Consumer {
	now := time.Now()

	m.mu.RLock()
	c, ok := m.consumers[id]
	m.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.lastSeen = now
		c.mu.Unlock()
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.consumers[id]; ok {
		c.mu.Lock()
		c.lastSeen = now
		c.mu.Unlock()
		return c
	}
	c = &Consumer{
		ID:        id,
		Origin:    origin,
		UserAgent: userAgent,
		CreatedAt: now,
		lastSeen:  now,
	}
	m.consumers[id] = c
	m.logger.Debug("consumer materialized", "consumer_id", id, "origin", origin)
	return c
}

// Get returns the consumer without refreshing its activity.
func (m *ConsumerManager) Get(id string) (*Consumer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consumers[id]
	return c, ok
}

// Info returns a point-in-time view of the consumer.
func (c *Consumer) Info() ConsumerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConsumerInfo{
		ID:         c.ID,
		Origin:     c.Origin,
		UserAgent:  c.UserAgent,
		ChannelID:  c.channelID,
		Adopted:    c.adopted,
		CreatedAt:  c.CreatedAt,
		LastSeenAt: c.lastSeen,
	}
}

// Adopt ties the consumer to a playing channel, exempting it from idle
// expiry. The consumer is materialized if the poll never preceded the tune.
func (m *ConsumerManager) Adopt(id, channelID string) {
	c := m.Touch(id, "adopt", "")
	c.mu.Lock()
	c.channelID = channelID
	c.adopted = true
	c.mu.Unlock()
}

// Associate records the channel a consumer tuned to without exempting it
// from idle expiry. Adoption only happens once a session actually starts
// streaming, so an abandoned tune still ages out.
func (m *ConsumerManager) Associate(id, origin, userAgent, channelID string) *Consumer {
	c := m.Touch(id, origin, userAgent)
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return c
}

// Release un-adopts the consumer when its session ends. Activity is
// refreshed so the id answers polls for one more TTL before expiring,
// which is how clients confirm the stream is really gone.
func (m *ConsumerManager) Release(id string) {
	m.mu.RLock()
	c, ok := m.consumers[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.adopted = false
	c.channelID = ""
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// Remove deletes the consumer outright.
func (m *ConsumerManager) Remove(id string) {
	m.mu.Lock()
	delete(m.consumers, id)
	m.mu.Unlock()
}

// Alive reports whether the id should still answer polls: it exists and is
// either adopted by a session or within its idle TTL.
func (m *ConsumerManager) Alive(id string) bool {
	m.mu.RLock()
	c, ok := m.consumers[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adopted || time.Since(c.lastSeen) < m.ttl
}

// Count returns the number of tracked consumers.
func (m *ConsumerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consumers)
}

// Snapshot returns all tracked consumers, oldest first.
func (m *ConsumerManager) Snapshot() []ConsumerInfo {
	m.mu.RLock()
	consumers := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.RUnlock()

	infos := make([]ConsumerInfo, 0, len(consumers))
	for _, c := range consumers {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Start launches the sweeper that expires un-adopted idle consumers.
func (m *ConsumerManager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.ttl / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(time.Now())
			}
		}
	}()
}

// Stop halts the sweeper.
func (m *ConsumerManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *ConsumerManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.consumers {
		c.mu.Lock()
		expired := !c.adopted && now.Sub(c.lastSeen) >= m.ttl
		c.mu.Unlock()
		if expired {
			delete(m.consumers, id)
			m.logger.Debug("consumer expired", "consumer_id", id, "origin", c.Origin)
		}
	}
}
