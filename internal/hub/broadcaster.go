package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"queuematic/internal/store"
)

// Broadcaster tails the outbox table and pushes committed events into the
// hub. The (created_at, event_id) cursor lives in memory: after a restart
// displays simply resynchronize from the branch projection.
type Broadcaster struct {
	store    store.Store
	hub      *Hub
	interval time.Duration

	cursorTime time.Time
	cursorID   string
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

func NewBroadcaster(s store.Store, h *Hub, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		store:      s,
		hub:        h,
		interval:   interval,
		cursorTime: time.Now().UTC(),
		cursorID:   zeroUUID,
	}
}

func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.poll(ctx); err != nil {
				log.Printf("outbox poll error: %v", err)
			}
		}
	}
}

func (b *Broadcaster) poll(ctx context.Context) error {
	events, err := b.store.ListOutboxEvents(ctx, b.cursorTime, b.cursorID, 200)
	if err != nil {
		return err
	}
	for _, event := range events {
		payload, err := json.Marshal(map[string]interface{}{
			"type":       event.Type,
			"payload":    event.Payload,
			"created_at": event.CreatedAt,
		})
		if err != nil {
			return err
		}
		b.hub.Broadcast(payload, event.BranchID)
		b.cursorTime = event.CreatedAt
		b.cursorID = event.EventID
	}
	return nil
}
