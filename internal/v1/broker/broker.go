package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linefeed/chatbroker/internal/v1/bus"
	"github.com/linefeed/chatbroker/internal/v1/logging"
	"github.com/linefeed/chatbroker/internal/v1/metrics"
)

// Broker owns the room directory. One value serves the whole process under
// normal operation; tests instantiate as many independent brokers as they
// need.
//
// Lock order is always broker before room. The leave path observes
// emptiness while holding only the room mutex, then rechecks it under both
// locks before unmapping, so a join that slipped in between keeps the room
// alive.
type Broker struct {
	mu  sync.Mutex
	dir *directory

	relay      *bus.Service // nil in single-instance mode
	instanceID string

	relayCtx    context.Context
	relayCancel context.CancelFunc
	relayWG     sync.WaitGroup
}

// New creates a Broker. relay may be nil, which disables cross-instance
// fan-out entirely.
func New(relay *bus.Service) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		dir:         newDirectory(),
		relay:       relay,
		instanceID:  uuid.NewString(),
		relayCtx:    ctx,
		relayCancel: cancel,
	}
}

// Lookup returns the room registered under name, or nil.
func (b *Broker) Lookup(name string) *Room {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir.lookup(name)
}

// RoomCount reports how many rooms the directory currently holds.
func (b *Broker) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir.len()
}

// getOrCreate returns the room registered under name, registering a fresh
// one first if needed. Atomic with respect to concurrent getOrCreate and
// unmap calls: two callers never obtain different rooms for the same name.
func (b *Broker) getOrCreate(name string) *Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r := b.dir.lookup(name); r != nil {
		return r
	}

	r := newRoom(name)
	b.startRelay(r)
	b.dir.insert(name, r)
	metrics.ActiveRooms.Inc()
	logging.Info(context.Background(), "Created room", zap.String("room", name))
	return r
}

// Join adds c to the room called name, creating the room if needed, and
// returns it. A lost race — the room emptied and was unmapped between the
// directory lookup and the add — is retried against a fresh room.
func (b *Broker) Join(name string, c *Client) (*Room, error) {
	for {
		r := b.getOrCreate(name)
		err := r.add(c)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, errRoomDefunct) {
			continue
		}
		return nil, err
	}
}

// Leave removes c from r and unmaps r if that left it empty. Emptiness is
// rechecked under the broker and room mutexes together, taken in that
// order, before the room is unmapped.
func (b *Broker) Leave(r *Room, c *Client) error {
	empty, err := r.remove(c)
	if err != nil {
		if errors.Is(err, ErrNotMember) && r.isDefunct() {
			return nil // already severed by shutdown
		}
		return err
	}
	if !empty {
		return nil
	}

	b.mu.Lock()
	r.mu.Lock()
	if r.members.len() == 0 && !r.defunct {
		r.defunct = true
		b.dir.remove(r.name)
		if r.relayCancel != nil {
			r.relayCancel()
		}
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(r.name)
		logging.Info(context.Background(), "Removed empty room", zap.String("room", r.name))
	}
	r.mu.Unlock()
	b.mu.Unlock()
	return nil
}

// Broadcast fans msg out to the local members of r and relays it to other
// instances when a bus is configured.
func (b *Broker) Broadcast(r *Room, msg []byte) {
	r.Broadcast(msg)

	if b.relay != nil {
		if err := b.relay.Publish(context.Background(), r.name, msg, b.instanceID); err != nil {
			logging.Warn(context.Background(), "relay publish failed",
				zap.String("room", r.name), zap.Error(err))
		}
	}
}

// startRelay subscribes r to broadcasts from other instances. Called under
// b.mu before the room becomes visible in the directory.
func (b *Broker) startRelay(r *Room) {
	if b.relay == nil {
		return
	}

	ctx, cancel := context.WithCancel(b.relayCtx)
	r.relayCancel = cancel
	b.relay.Subscribe(ctx, r.name, &b.relayWG, func(e bus.Envelope) {
		if e.SenderID == b.instanceID {
			return // our own publish echoing back
		}
		r.Broadcast(e.Data)
	})
}

// Shutdown severs every member connection, empties the directory, and waits
// for relay subscriptions to drain. Best effort: member close errors are
// ignored, and a cancelled ctx abandons the wait.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.relayCancel()

	b.mu.Lock()
	var rooms []*Room
	b.dir.each(func(r *Room) {
		rooms = append(rooms, r)
	})
	b.dir = newDirectory()
	b.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.defunct = true
		for _, m := range r.members.members {
			_ = m.Close()
		}
		r.members = newRoster()
		r.mu.Unlock()
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(r.name)
	}

	logging.Info(ctx, "Broker shut down", zap.Int("rooms_closed", len(rooms)))

	done := make(chan struct{})
	go func() {
		b.relayWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
