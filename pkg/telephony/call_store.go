package telephony

import (
	"fmt"
	"sync"
)

// CallRecord correlates a platform call with the engine's call id.
type CallRecord struct {
	// Call is nil while an outgoing call awaits its platform handle.
	Call     Call
	CallID   string
	CallerID string
	// AwaitingID marks a record keyed by a placeholder until the engine
	// assigns the real call id.
	AwaitingID bool
	Incoming   bool
}

// HandleKey returns the platform handle of the record, or "".
func (r CallRecord) HandleKey() string {
	if r.Call == nil {
		return ""
	}
	return r.Call.Handle()
}

type slot struct {
	rec  CallRecord
	used bool
}

const noSlot = -1

// CallStore keeps call records in an arena indexed by call id and by handle.
// One mutex covers the arena, both indices and the correlation slots.
type CallStore struct {
	mu       sync.Mutex
	slots    []slot
	free     []int
	byID     map[string]int
	byHandle map[string]int

	pendingOutgoing int
	awaitingID      map[int]struct{}
}

// NewCallStore creates an empty store.
func NewCallStore() *CallStore {
	return &CallStore{
		byID:            make(map[string]int),
		byHandle:        make(map[string]int),
		pendingOutgoing: noSlot,
		awaitingID:      make(map[int]struct{}),
	}
}

// Add inserts rec. At most one record exists per id and per handle.
func (s *CallStore) Add(rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.addLocked(rec)
	return err
}

func (s *CallStore) addLocked(rec CallRecord) (int, error) {
	if rec.CallID == "" {
		return noSlot, fmt.Errorf("add call: empty call id")
	}
	if _, ok := s.byID[rec.CallID]; ok {
		return noSlot, fmt.Errorf("add call %s: %w", rec.CallID, ErrDuplicateID)
	}
	handle := rec.HandleKey()
	if handle != "" {
		if _, ok := s.byHandle[handle]; ok {
			return noSlot, fmt.Errorf("add call %s: %w", handle, ErrDuplicateHandle)
		}
	}

	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx] = slot{rec: rec, used: true}
	} else {
		idx = len(s.slots)
		s.slots = append(s.slots, slot{rec: rec, used: true})
	}

	s.byID[rec.CallID] = idx
	if handle != "" {
		s.byHandle[handle] = idx
	}
	if rec.AwaitingID {
		s.awaitingID[idx] = struct{}{}
	}
	return idx, nil
}

// ByID returns the record keyed by id.
func (s *CallStore) ByID(id string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return CallRecord{}, false
	}
	return s.slots[idx].rec, true
}

// ByHandle returns the record holding the given platform handle.
func (s *CallStore) ByHandle(handle string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byHandle[handle]
	if !ok {
		return CallRecord{}, false
	}
	return s.slots[idx].rec, true
}

// AttachHandle sets the platform call of the record keyed by id.
func (s *CallStore) AttachHandle(id string, call Call) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return CallRecord{}, fmt.Errorf("attach handle to %s: %w", id, ErrNotFound)
	}
	return s.attachLocked(idx, call)
}

func (s *CallStore) attachLocked(idx int, call Call) (CallRecord, error) {
	handle := call.Handle()
	if other, ok := s.byHandle[handle]; ok && other != idx {
		return CallRecord{}, fmt.Errorf("attach handle %s: %w", handle, ErrDuplicateHandle)
	}
	rec := &s.slots[idx].rec
	if old := rec.HandleKey(); old != "" && old != handle {
		delete(s.byHandle, old)
	}
	rec.Call = call
	s.byHandle[handle] = idx
	return *rec, nil
}

// Rekey moves the record keyed by oldID to newID. awaiting sets whether the new
// key is itself a placeholder.
func (s *CallStore) Rekey(oldID, newID string, awaiting bool) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[oldID]
	if !ok {
		return CallRecord{}, fmt.Errorf("rekey %s: %w", oldID, ErrNotFound)
	}
	if other, ok := s.byID[newID]; ok && other != idx {
		return CallRecord{}, fmt.Errorf("rekey %s to %s: %w", oldID, newID, ErrDuplicateID)
	}

	delete(s.byID, oldID)
	s.byID[newID] = idx
	rec := &s.slots[idx].rec
	rec.CallID = newID
	rec.AwaitingID = awaiting
	if awaiting {
		s.awaitingID[idx] = struct{}{}
	} else {
		delete(s.awaitingID, idx)
	}
	return *rec, nil
}

// RemoveByHandle removes the record holding handle along with its id key.
func (s *CallStore) RemoveByHandle(handle string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byHandle[handle]
	if !ok {
		return CallRecord{}, false
	}
	return s.removeLocked(idx), true
}

// RemoveByID removes the record keyed by id along with its handle key.
func (s *CallStore) RemoveByID(id string) (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return CallRecord{}, false
	}
	return s.removeLocked(idx), true
}

func (s *CallStore) removeLocked(idx int) CallRecord {
	rec := s.slots[idx].rec
	delete(s.byID, rec.CallID)
	if h := rec.HandleKey(); h != "" {
		delete(s.byHandle, h)
	}
	delete(s.awaitingID, idx)
	if s.pendingOutgoing == idx {
		s.pendingOutgoing = noSlot
	}
	s.slots[idx] = slot{}
	s.free = append(s.free, idx)
	return rec
}

// ReservePendingOutgoing adds rec as the single outgoing call awaiting its
// platform handle.
func (s *CallStore) ReservePendingOutgoing(rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutgoing != noSlot {
		return ErrCorrelationSlotBusy
	}
	rec.Call = nil
	rec.AwaitingID = false
	idx, err := s.addLocked(rec)
	if err != nil {
		return err
	}
	s.pendingOutgoing = idx
	return nil
}

// TakePendingOutgoing attaches call to the outgoing record awaiting a handle
// and frees the slot.
func (s *CallStore) TakePendingOutgoing(call Call) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutgoing == noSlot {
		return CallRecord{}, ErrNotFound
	}
	rec, err := s.attachLocked(s.pendingOutgoing, call)
	if err != nil {
		return CallRecord{}, err
	}
	s.pendingOutgoing = noSlot
	return rec, nil
}

// PendingOutgoing returns the outgoing record awaiting a handle, if any.
func (s *CallStore) PendingOutgoing() (CallRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutgoing == noSlot {
		return CallRecord{}, false
	}
	return s.slots[s.pendingOutgoing].rec, true
}

// SoleAwaitingID returns the only record still keyed by a placeholder.
func (s *CallStore) SoleAwaitingID() (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch len(s.awaitingID) {
	case 0:
		return CallRecord{}, ErrNotFound
	case 1:
		for idx := range s.awaitingID {
			return s.slots[idx].rec, nil
		}
	}
	return CallRecord{}, ErrAmbiguousCorrelation
}

// Snapshot copies every record in arena order.
func (s *CallStore) Snapshot() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0, len(s.byID))
	for _, sl := range s.slots {
		if sl.used {
			out = append(out, sl.rec)
		}
	}
	return out
}

// Len reports the number of records.
func (s *CallStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Clear drops every record, index and correlation slot.
func (s *CallStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = nil
	s.free = nil
	s.byID = make(map[string]int)
	s.byHandle = make(map[string]int)
	s.awaitingID = make(map[int]struct{})
	s.pendingOutgoing = noSlot
}
