package telephony

import (
	"errors"
	"testing"
)

func TestCallStoreAddAndLookup(t *testing.T) {
	s := NewCallStore()
	call := newFakeCall("H1", StateActive, "+15551112222")

	if err := s.Add(CallRecord{Call: call, CallID: "id1", CallerID: "+15551112222"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	byID, ok := s.ByID("id1")
	if !ok || byID.HandleKey() != "H1" {
		t.Fatalf("ByID = %+v, %v", byID, ok)
	}
	byHandle, ok := s.ByHandle("H1")
	if !ok || byHandle.CallID != "id1" {
		t.Fatalf("ByHandle = %+v, %v", byHandle, ok)
	}

	if err := s.Add(CallRecord{CallID: "id1"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate id err = %v", err)
	}
	if err := s.Add(CallRecord{Call: call, CallID: "id2"}); !errors.Is(err, ErrDuplicateHandle) {
		t.Errorf("duplicate handle err = %v", err)
	}
	if err := s.Add(CallRecord{}); err == nil {
		t.Error("expected error for empty id")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestCallStoreRemoveKeepsIndicesConsistent(t *testing.T) {
	s := NewCallStore()
	s.Add(CallRecord{Call: newFakeCall("H1", StateActive, ""), CallID: "id1"})
	s.Add(CallRecord{Call: newFakeCall("H2", StateActive, ""), CallID: "id2"})

	rec, ok := s.RemoveByHandle("H1")
	if !ok || rec.CallID != "id1" {
		t.Fatalf("RemoveByHandle = %+v, %v", rec, ok)
	}
	if _, ok := s.ByHandle("H1"); ok {
		t.Error("handle still indexed")
	}
	if _, ok := s.ByID("id1"); ok {
		t.Error("id still indexed")
	}
	if _, ok := s.RemoveByHandle("H1"); ok {
		t.Error("second remove should miss")
	}

	// freed slot is reused without disturbing the survivor
	s.Add(CallRecord{Call: newFakeCall("H3", StateActive, ""), CallID: "id3"})
	if rec, ok := s.ByHandle("H2"); !ok || rec.CallID != "id2" {
		t.Errorf("survivor lost: %+v", rec)
	}
	if rec, ok := s.ByID("id3"); !ok || rec.HandleKey() != "H3" {
		t.Errorf("reused slot = %+v", rec)
	}
	if got := len(s.Snapshot()); got != 2 {
		t.Errorf("snapshot len = %d", got)
	}
}

func TestCallStorePendingOutgoingSlot(t *testing.T) {
	s := NewCallStore()
	if _, err := s.TakePendingOutgoing(newFakeCall("H0", StateDialing, "")); !errors.Is(err, ErrNotFound) {
		t.Errorf("take on empty slot = %v", err)
	}

	if err := s.ReservePendingOutgoing(CallRecord{CallID: "id1", CallerID: "+1555"}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := s.ReservePendingOutgoing(CallRecord{CallID: "id2"}); !errors.Is(err, ErrCorrelationSlotBusy) {
		t.Errorf("second reserve = %v, want ErrCorrelationSlotBusy", err)
	}
	if _, ok := s.ByID("id2"); ok {
		t.Error("rejected reservation must not be stored")
	}

	rec, err := s.TakePendingOutgoing(newFakeCall("H1", StateDialing, ""))
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if rec.CallID != "id1" || rec.HandleKey() != "H1" {
		t.Errorf("taken = %+v", rec)
	}
	if got, _ := s.ByHandle("H1"); got.CallID != "id1" {
		t.Errorf("handle not indexed: %+v", got)
	}
	if _, ok := s.PendingOutgoing(); ok {
		t.Error("slot should be free after take")
	}
	if err := s.ReservePendingOutgoing(CallRecord{CallID: "id2"}); err != nil {
		t.Errorf("reserve after take: %v", err)
	}
}

func TestCallStoreRemoveFreesPendingSlot(t *testing.T) {
	s := NewCallStore()
	s.ReservePendingOutgoing(CallRecord{CallID: "id1"})
	s.RemoveByID("id1")
	if err := s.ReservePendingOutgoing(CallRecord{CallID: "id2"}); err != nil {
		t.Errorf("reserve after remove: %v", err)
	}
}

func TestCallStoreAwaitingID(t *testing.T) {
	s := NewCallStore()
	if _, err := s.SoleAwaitingID(); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty = %v", err)
	}

	s.Add(CallRecord{Call: newFakeCall("H1", StateRinging, ""), CallID: "p1", AwaitingID: true})
	rec, err := s.SoleAwaitingID()
	if err != nil || rec.CallID != "p1" {
		t.Fatalf("SoleAwaitingID = %+v, %v", rec, err)
	}

	s.Add(CallRecord{Call: newFakeCall("H2", StateRinging, ""), CallID: "p2", AwaitingID: true})
	if _, err := s.SoleAwaitingID(); !errors.Is(err, ErrAmbiguousCorrelation) {
		t.Errorf("two awaiting = %v", err)
	}

	rec, err = s.Rekey("p1", "real-1", false)
	if err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if rec.AwaitingID || rec.CallID != "real-1" {
		t.Errorf("rekeyed = %+v", rec)
	}
	if _, ok := s.ByID("p1"); ok {
		t.Error("placeholder still indexed")
	}
	if got, _ := s.ByHandle("H1"); got.CallID != "real-1" {
		t.Errorf("handle index not updated: %+v", got)
	}
	if rec, err := s.SoleAwaitingID(); err != nil || rec.CallID != "p2" {
		t.Errorf("remaining awaiting = %+v, %v", rec, err)
	}

	if _, err := s.Rekey("p2", "real-1", false); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("rekey onto existing id = %v", err)
	}
	if _, err := s.Rekey("missing", "x", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("rekey missing = %v", err)
	}
}

func TestCallStoreAttachHandle(t *testing.T) {
	s := NewCallStore()
	s.Add(CallRecord{CallID: "id1"})
	s.Add(CallRecord{Call: newFakeCall("H2", StateActive, ""), CallID: "id2"})

	if _, err := s.AttachHandle("id1", newFakeCall("H2", StateActive, "")); !errors.Is(err, ErrDuplicateHandle) {
		t.Errorf("attach taken handle = %v", err)
	}
	if _, err := s.AttachHandle("nope", newFakeCall("H9", StateActive, "")); !errors.Is(err, ErrNotFound) {
		t.Errorf("attach to missing = %v", err)
	}
	rec, err := s.AttachHandle("id1", newFakeCall("H1", StateActive, ""))
	if err != nil || rec.HandleKey() != "H1" {
		t.Fatalf("AttachHandle = %+v, %v", rec, err)
	}
}

func TestCallStoreClear(t *testing.T) {
	s := NewCallStore()
	s.Add(CallRecord{Call: newFakeCall("H1", StateActive, ""), CallID: "id1"})
	s.ReservePendingOutgoing(CallRecord{CallID: "id2"})
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
	if _, ok := s.ByHandle("H1"); ok {
		t.Error("handle survived Clear")
	}
	if _, ok := s.PendingOutgoing(); ok {
		t.Error("pending slot survived Clear")
	}
}
