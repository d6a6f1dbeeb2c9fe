package eventbus

import (
	"context"

	"github.com/annel0/starfleet/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Перегрузки тиков идут уровнем WARN, снимки INFO, остальное DEBUG.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		switch ev.EventType {
		case EventTickOverrun:
			var p TickOverrunEvent
			if err := ev.Decode(&p); err == nil {
				logging.Warn("⏱️ Тик %d занял %v при бюджете %v", p.Tick, p.Duration, p.Budget)
				return
			}
		case EventSnapshotSaved, EventSnapshotLoaded:
			var p SnapshotEvent
			if err := ev.Decode(&p); err == nil {
				logging.Info("💾 %s %s: %d систем, %d сущностей, %dB (%s+%s)",
					ev.EventType, p.Key, p.Systems, p.Entities, p.Bytes, p.Codec, p.Compression)
				return
			}
		}
		logging.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
