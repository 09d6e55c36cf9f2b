package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linefeed/chatbroker/internal/v1/logging"
	"github.com/linefeed/chatbroker/internal/v1/metrics"
)

// errRoomDefunct reports an add that raced against the room being emptied
// and unmapped; the caller re-resolves the name through the directory.
var errRoomDefunct = errors.New("broker: room was unmapped")

// Room is one broadcast group. Its mutex serializes every read or write of
// the member list; fan-out holds it for the duration of all writes, so each
// member observes the same total order of messages.
type Room struct {
	name string

	mu      sync.Mutex
	members roster
	defunct bool // set under mu once the room is unmapped from the directory

	relayCancel context.CancelFunc // stops the bus subscription; nil without a bus
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: newRoster(),
	}
}

// Name returns the room's immutable name.
func (r *Room) Name() string {
	return r.name
}

// Len reports the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members.len()
}

func (r *Room) add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defunct {
		return errRoomDefunct
	}
	if err := r.members.add(c); err != nil {
		return err
	}
	metrics.RoomMembers.WithLabelValues(r.name).Set(float64(r.members.len()))
	return nil
}

func (r *Room) isDefunct() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defunct
}

// remove deletes c and reports whether the room emptied. The caller decides
// what to do about an empty room; this method never touches the directory.
func (r *Room) remove(c *Client) (empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.members.remove(c); err != nil {
		return false, err
	}
	metrics.RoomMembers.WithLabelValues(r.name).Set(float64(r.members.len()))
	return r.members.len() == 0, nil
}

// Broadcast writes msg to every current member. A failed write is logged
// and skipped: it neither stops the fan-out nor removes the member — the
// member's own handler notices the dead connection on its next read and
// deregisters itself.
func (r *Room) Broadcast(msg []byte) {
	start := time.Now()

	r.mu.Lock()
	for _, m := range r.members.members {
		if _, err := m.Write(msg); err != nil {
			metrics.BroadcastWriteFailures.Inc()
			logging.Warn(context.Background(), "broadcast write failed, skipping recipient",
				zap.String("room", r.name),
				zap.String("recipient", m.ID()),
				zap.Error(err))
		}
	}
	r.mu.Unlock()

	metrics.BroadcastsTotal.Inc()
	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
}
