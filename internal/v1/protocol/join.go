package protocol

import (
	"bytes"
	"errors"
)

// MaxNameLen bounds both room names and nicknames, in bytes.
const MaxNameLen = 20

// ErrMalformedJoin reports a first frame that is not a well-formed JOIN.
var ErrMalformedJoin = errors.New("protocol: malformed JOIN")

// ErrorLine is the only bytes the server emits on a protocol failure.
var ErrorLine = []byte("ERROR\n")

var joinKeyword = []byte("JOIN")

// Join is the decoded handshake naming the room a client enters and the
// nickname it speaks under for the rest of the connection.
type Join struct {
	Room string
	Nick string
}

// ParseJoin decodes a handshake frame (newline already stripped). The frame
// must hold exactly three whitespace-separated tokens: the keyword JOIN
// (ASCII, case-insensitive), a room name, and a nickname, each 1..MaxNameLen
// bytes. Anything else is ErrMalformedJoin.
func ParseJoin(frame []byte) (Join, error) {
	tokens := bytes.Fields(frame)
	if len(tokens) != 3 {
		return Join{}, ErrMalformedJoin
	}
	if !bytes.EqualFold(tokens[0], joinKeyword) {
		return Join{}, ErrMalformedJoin
	}
	room, nick := tokens[1], tokens[2]
	if len(room) == 0 || len(room) > MaxNameLen {
		return Join{}, ErrMalformedJoin
	}
	if len(nick) == 0 || len(nick) > MaxNameLen {
		return Join{}, ErrMalformedJoin
	}
	return Join{Room: string(room), Nick: string(nick)}, nil
}

// Wire re-serializes the handshake in canonical form.
func (j Join) Wire() []byte {
	b := make([]byte, 0, len(joinKeyword)+len(j.Room)+len(j.Nick)+3)
	b = append(b, joinKeyword...)
	b = append(b, ' ')
	b = append(b, j.Room...)
	b = append(b, ' ')
	b = append(b, j.Nick...)
	b = append(b, '\n')
	return b
}

// JoinAnnouncement is broadcast to a room after a member is added.
func JoinAnnouncement(nick string) []byte {
	return announcement(nick, " has joined\n")
}

// LeaveAnnouncement is broadcast to a room after a member is removed.
func LeaveAnnouncement(nick string) []byte {
	return announcement(nick, " has left\n")
}

func announcement(nick, suffix string) []byte {
	b := make([]byte, 0, len(nick)+len(suffix))
	b = append(b, nick...)
	b = append(b, suffix...)
	return b
}

// UserLine formats one payload line for broadcast: "<nick>: <line>\n".
// line may contain arbitrary bytes except newline.
func UserLine(nick string, line []byte) []byte {
	b := make([]byte, 0, len(nick)+2+len(line)+1)
	b = append(b, nick...)
	b = append(b, ':', ' ')
	b = append(b, line...)
	b = append(b, '\n')
	return b
}
