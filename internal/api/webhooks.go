package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/segmentio/encoding/json"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultWebhookRetries = 3
	webhookQueueSize      = 1000
)

// OutboundEvent тело POST-запроса к webhook
type OutboundEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WebhookStatus состояние webhook для /api/webhooks (без секрета)
type WebhookStatus struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Events       []string   `json:"events"`
	Delivered    int        `json:"delivered"`
	FailureCount int        `json:"failure_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
}

type webhook struct {
	cfg       config.WebhookConfig
	delivered int
	failures  int
	lastUsed  *time.Time
}

func (w *webhook) subscribed(eventType string) bool {
	if len(w.cfg.Events) == 0 {
		return true
	}
	for _, e := range w.cfg.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// WebhookForwarder пересылает события шины на внешние URL.
// Тело подписывается HMAC-SHA256 секретом webhook в заголовке X-Webhook-Signature.
type WebhookForwarder struct {
	mu         sync.RWMutex
	hooks      []*webhook
	serverID   string
	httpClient *http.Client
	retryDelay time.Duration

	queue   chan OutboundEvent
	sub     eventbus.Subscription
	wg      sync.WaitGroup
	started bool
}

// NewWebhookForwarder готовит пересылку; события не идут, пока не вызван Start
func NewWebhookForwarder(serverID string, hooks []config.WebhookConfig) *WebhookForwarder {
	f := &WebhookForwarder{
		serverID:   serverID,
		httpClient: &http.Client{},
		retryDelay: time.Second,
		queue:      make(chan OutboundEvent, webhookQueueSize),
	}
	for _, h := range hooks {
		if h.Timeout <= 0 {
			h.Timeout = defaultWebhookTimeout
		}
		if h.RetryCount <= 0 {
			h.RetryCount = defaultWebhookRetries
		}
		if h.Name == "" {
			h.Name = h.URL
		}
		f.hooks = append(f.hooks, &webhook{cfg: h})
	}
	return f
}

// Len число настроенных webhook
func (f *WebhookForwarder) Len() int {
	return len(f.hooks)
}

// Start подписывается на все события шины и запускает воркер доставки
func (f *WebhookForwarder) Start(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, f.enqueue)
	if err != nil {
		return err
	}
	f.wg.Add(1)
	go f.eventWorker()

	f.mu.Lock()
	f.sub = sub
	f.started = true
	f.mu.Unlock()

	logging.Info("📤 Пересылка событий на %d webhook запущена", len(f.hooks))
	return nil
}

// Stop отписывается от шины и дожидается доставки очереди
func (f *WebhookForwarder) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	close(f.queue)
	f.mu.Unlock()

	f.sub.Unsubscribe()
	f.wg.Wait()
}

func (f *WebhookForwarder) enqueue(_ context.Context, ev *eventbus.Envelope) {
	out := OutboundEvent{
		ID:        ev.ID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Unix(),
		ServerID:  f.serverID,
		Source:    ev.Source,
		Data:      json.RawMessage(ev.Payload),
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.started {
		return
	}
	select {
	case f.queue <- out:
	default:
		logging.Warn("⚠️ Очередь webhook переполнена, событие %s пропущено", ev.EventType)
	}
}

func (f *WebhookForwarder) eventWorker() {
	defer f.wg.Done()
	for event := range f.queue {
		f.process(event)
	}
}

func (f *WebhookForwarder) process(event OutboundEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		logging.Error("❌ Ошибка маршалинга события %s: %v", event.EventType, err)
		return
	}

	var wg sync.WaitGroup
	for _, hook := range f.hooks {
		if !hook.subscribed(event.EventType) {
			continue
		}
		wg.Add(1)
		go func(hook *webhook) {
			defer wg.Done()
			ok := f.send(hook, event.EventType, body)

			f.mu.Lock()
			now := time.Now()
			hook.lastUsed = &now
			if ok {
				hook.delivered++
			} else {
				hook.failures++
			}
			f.mu.Unlock()
		}(hook)
	}
	wg.Wait()
}

func (f *WebhookForwarder) send(hook *webhook, eventType string, body []byte) bool {
	for attempt := 0; attempt <= hook.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * f.retryDelay)
		}
		status, err := f.post(hook, eventType, body)
		if err != nil {
			logging.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, hook.cfg.RetryCount+1, hook.cfg.Name, err)
			continue
		}
		if status >= 200 && status < 300 {
			logging.Debug("✅ Событие %s доставлено в webhook %s", eventType, hook.cfg.Name)
			return true
		}
		logging.Warn("⚠️ Webhook %s вернул статус %d на попытке %d", hook.cfg.Name, status, attempt+1)
	}
	return false
}

func (f *WebhookForwarder) post(hook *webhook, eventType string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), hook.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Starfleet/1.0")
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Server-ID", f.serverID)
	if hook.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, hook.cfg.Secret))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Statuses состояние всех webhook
func (f *WebhookForwarder) Statuses() []WebhookStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]WebhookStatus, 0, len(f.hooks))
	for _, h := range f.hooks {
		out = append(out, WebhookStatus{
			Name:         h.cfg.Name,
			URL:          h.cfg.URL,
			Events:       h.cfg.Events,
			Delivered:    h.delivered,
			FailureCount: h.failures,
			LastUsed:     h.lastUsed,
		})
	}
	return out
}

// Sign HMAC-SHA256 подпись тела в формате "sha256=<hex>"
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
