package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/eventbus"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		configPath = flag.String("config", "", "Path to starfleet config (eventbus section)")
		url        = flag.String("url", "", "NATS URL, overrides config")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Event sources filter (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 - follow until interrupted)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	cfg.EventBus.Backend = "jetstream"
	if *url != "" {
		cfg.EventBus.URL = *url
	}

	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Failed to connect to event bus: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := tailEvents(ctx, bus, TailOptions{
		EventTypes: parseStringList(*eventTypes),
		Sources:    parseStringList(*sources),
		Limit:      *limit,
	}, os.Stdout)
	if err != nil {
		log.Fatalf("❌ Tail failed: %v", err)
	}
	fmt.Printf("\n📊 Total events: %d\n", n)
}

type TailOptions struct {
	EventTypes []string
	Sources    []string
	Limit      int
}

// tailEvents печатает события шины до отмены ctx или до Limit событий
func tailEvents(ctx context.Context, bus eventbus.EventBus, opts TailOptions, out io.Writer) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *eventbus.Envelope, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: opts.EventTypes, Sources: opts.Sources},
		func(_ context.Context, ev *eventbus.Envelope) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	if err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(out, "🎬 Tailing events (types: %v, limit: %d)\n", opts.EventTypes, opts.Limit)

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, nil
		case ev := <-events:
			printEvent(out, ev)
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				return count, nil
			}
		}
	}
}

func printEvent(out io.Writer, ev *eventbus.Envelope) {
	fmt.Fprintf(out, "[%s] %s/%s [%s]\n",
		ev.Timestamp.Format(timeFormat), ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case eventbus.EventSnapshotSaved, eventbus.EventSnapshotLoaded:
		var p eventbus.SnapshotEvent
		if ev.Decode(&p) == nil {
			fmt.Fprintf(out, "  Key: %s Systems: %d Entities: %d Size: %d (%s+%s)\n",
				p.Key, p.Systems, p.Entities, p.Bytes, p.Codec, p.Compression)
		}
	case eventbus.EventTickOverrun:
		var p eventbus.TickOverrunEvent
		if ev.Decode(&p) == nil {
			fmt.Fprintf(out, "  Tick: %d Duration: %s Budget: %s\n", p.Tick, p.Duration, p.Budget)
		}
	case eventbus.EventSystemAdded:
		var p eventbus.SystemAddedEvent
		if ev.Decode(&p) == nil {
			fmt.Fprintf(out, "  System: %s at (%g, %g)\n", p.Name, p.X, p.Y)
		}
	default:
		if len(ev.Payload) > 0 {
			fmt.Fprintf(out, "  Payload: %s\n", ev.Payload)
		}
	}
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
