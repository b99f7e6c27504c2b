package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/clktmr/maple/debug"
	"github.com/clktmr/maple/maplebus"
)

var ErrInvalidPacket = errors.New("invalid packet")

// Item is the result of PeekNext.  It must be passed to Pop to remove the
// transmission from the schedule.
type Item struct {
	Tx     *Transmission
	TimeUs uint64 // time of the peek
}

// Schedule holds all pending transmissions of one bus.  It's not safe for
// concurrent use.
type Schedule struct {
	items  []*Transmission
	lastID uint32
	log    *slog.Logger
}

func New() *Schedule {
	return &Schedule{log: debug.Logger(debug.ComponentSchedule)}
}

// Add schedules a new transmission and returns its id.  Ids start at 1 and
// are strictly increasing.
func (s *Schedule) Add(r Request) (uint32, error) {
	if !r.Packet.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPacket, r.Packet)
	}
	s.lastID++
	tx := newTransmission(s.lastID, &r)
	s.insert(tx, false)
	s.log.Debug("add", "id", tx.ID, "cmd", tx.Packet.Frame.Command,
		"recipient", tx.Recipient(), "time", tx.NextUs, "priority", tx.Priority)
	return tx.ID, nil
}

func (s *Schedule) insert(tx *Transmission, repeat bool) {
	pos := len(s.items)
	for i, v := range s.items {
		if tx.NextUs < v.NextUs || (tx.NextUs == v.NextUs && tx.Priority < v.Priority) {
			pos = i
			break
		}
	}

	// Never overtake a transmission to the same recipient, except for the
	// future run of a repeating one.  A repeat taken from the schedule
	// keeps plain time order.
	for i := len(s.items) - 1; i >= pos; i-- {
		v := s.items[i]
		if v.Recipient() != tx.Recipient() {
			continue
		}
		if v.NextUs <= tx.NextUs || (!repeat && v.AutoRepeatUs == 0) {
			pos = i + 1
			break
		}
	}

	s.items = slices.Insert(s.items, pos, tx)
}

// PeekNext returns the transmission that should be executed at nowUs without
// removing it.
//
// Among all due transmissions that aren't preceded by a transmission to the
// same recipient, the one with the highest priority is chosen, ties going to
// the earlier in the sequence.  It is only returned if it finishes before any
// pending transmission of strictly higher priority becomes due, otherwise the
// next candidate is checked.
func (s *Schedule) PeekNext(nowUs uint64) (Item, bool) {
	var seen [256]bool
	var buf [16]*Transmission
	candidates := buf[:0]

	for _, tx := range s.items {
		r := tx.Recipient()
		if seen[r] {
			continue
		}
		seen[r] = true
		if tx.NextUs <= nowUs {
			candidates = append(candidates, tx)
		}
	}

	// stable, keeps sequence order for equal priorities
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Priority < candidates[j-1].Priority; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	for _, tx := range candidates {
		if s.fits(tx, nowUs) {
			return Item{tx, nowUs}, true
		}
	}
	return Item{}, false
}

// fits reports whether tx completes before any transmission with higher
// priority is due.
func (s *Schedule) fits(tx *Transmission, nowUs uint64) bool {
	end := nowUs + uint64(tx.DurationUs)
	for _, v := range s.items {
		if v.Priority < tx.Priority && v.NextUs > nowUs && v.NextUs < end {
			return false
		}
	}
	return true
}

// Pop removes a transmission returned by PeekNext.  Transmissions with auto
// repeat are scheduled again at the next interval strictly after the time of
// the peek, skipping missed intervals.  Returns false if the transmission was
// canceled in the meantime.
func (s *Schedule) Pop(item Item) bool {
	i := slices.Index(s.items, item.Tx)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)

	tx := item.Tx
	if tx.AutoRepeatUs == 0 {
		return true
	}

	next := tx.NextUs
	if item.TimeUs >= next {
		missed := (item.TimeUs - next) / uint64(tx.AutoRepeatUs)
		next += (missed + 1) * uint64(tx.AutoRepeatUs)
	}
	debug.Assertf(next > item.TimeUs, "schedule: repeat at %d not after %d", next, item.TimeUs)
	if tx.AutoRepeatEndUs != 0 && next > tx.AutoRepeatEndUs {
		return true
	}
	tx.NextUs = next
	s.insert(tx, true)

	return true
}

// CancelByID removes the transmission with the given id.
func (s *Schedule) CancelByID(id uint32) int {
	return s.cancel(func(tx *Transmission) bool { return tx.ID == id })
}

// CancelByRecipient removes all transmissions to addr.
func (s *Schedule) CancelByRecipient(addr maplebus.Address) int {
	return s.cancel(func(tx *Transmission) bool { return tx.Recipient() == addr })
}

// CancelAll removes all transmissions.
func (s *Schedule) CancelAll() int {
	n := len(s.items)
	clear(s.items)
	s.items = s.items[:0]
	return n
}

func (s *Schedule) cancel(match func(*Transmission) bool) int {
	n := len(s.items)
	s.items = slices.DeleteFunc(s.items, match)
	n -= len(s.items)
	if n > 0 {
		s.log.Debug("cancel", "count", n)
	}
	return n
}

// CountRecipients returns the number of pending transmissions to addr.
func (s *Schedule) CountRecipients(addr maplebus.Address) (n int) {
	for _, tx := range s.items {
		if tx.Recipient() == addr {
			n++
		}
	}
	return
}

// Len returns the number of pending transmissions.
func (s *Schedule) Len() int {
	return len(s.items)
}

// Pending reports whether a transmission with the given id is scheduled.
func (s *Schedule) Pending(id uint32) bool {
	return slices.ContainsFunc(s.items, func(tx *Transmission) bool { return tx.ID == id })
}
