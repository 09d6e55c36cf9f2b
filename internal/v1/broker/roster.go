package broker

import "errors"

// initialRosterCap sizes a fresh member list; growth past it doubles.
const initialRosterCap = 1000

var (
	// ErrAlreadyMember reports an add of a handle the list already holds.
	ErrAlreadyMember = errors.New("broker: handle already in member list")

	// ErrNotMember reports a remove of a handle the list does not hold.
	ErrNotMember = errors.New("broker: handle not in member list")
)

// roster is the ordered member list of one room. It is not safe for
// concurrent use; the owning room's mutex serializes every access.
type roster struct {
	members []*Client
}

func newRoster() roster {
	return roster{members: make([]*Client, 0, initialRosterCap)}
}

// add appends c. Duplicates are rejected by a full scan.
func (r *roster) add(c *Client) error {
	for _, m := range r.members {
		if m == c {
			return ErrAlreadyMember
		}
	}
	r.members = append(r.members, c)
	return nil
}

// remove deletes the first entry equal to c, shifting the tail left.
func (r *roster) remove(c *Client) error {
	for i, m := range r.members {
		if m == c {
			copy(r.members[i:], r.members[i+1:])
			r.members[len(r.members)-1] = nil
			r.members = r.members[:len(r.members)-1]
			return nil
		}
	}
	return ErrNotMember
}

func (r *roster) len() int {
	return len(r.members)
}
