package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/starfleet/internal/config"
)

// Типы событий движка
const (
	EventSnapshotSaved  = "SnapshotSaved"
	EventSnapshotLoaded = "SnapshotLoaded"
	EventTickOverrun    = "TickOverrun"
	EventSystemAdded    = "SystemAdded"
)

// SnapshotEvent полезная нагрузка SnapshotSaved и SnapshotLoaded
type SnapshotEvent struct {
	Key         string `json:"key"`
	Bytes       int    `json:"bytes"`
	Systems     int    `json:"systems"`
	Entities    int    `json:"entities"`
	Codec       string `json:"codec"`
	Compression string `json:"compression"`
	Tick        uint64 `json:"tick"`
}

// TickOverrunEvent тик не уложился в период
type TickOverrunEvent struct {
	Tick     uint64        `json:"tick"`
	Duration time.Duration `json:"duration"`
	Budget   time.Duration `json:"budget"`
}

// SystemAddedEvent новая система в галактике
type SystemAddedEvent struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Open создаёт шину по секции eventbus конфигурации; для "none" возвращает nil
func Open(cfg config.EventBusConfig) (EventBus, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "", "memory":
		return NewMemoryBus(1024), nil
	case "jetstream":
		bus, err := NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("eventbus: unknown backend %q", cfg.Backend)
	}
}

// Emit упаковывает payload и публикует его, если шина задана
func Emit(ctx context.Context, bus EventBus, source, eventType string, priority int, payload any) error {
	if bus == nil {
		return nil
	}
	ev, err := NewEnvelope(source, eventType, payload)
	if err != nil {
		return fmt.Errorf("eventbus: encode %s: %w", eventType, err)
	}
	ev.Priority = priority
	return bus.Publish(ctx, ev)
}
