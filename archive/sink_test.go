package archive

import (
	"errors"
	"testing"
)

func TestStubSink(t *testing.T) {
	sink := NewStubSink()

	location, err := sink.Store(t.Context(), testFile([]byte("x")))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if location != "stub://sess-1" {
		t.Errorf("location %q", location)
	}
	if sink.StoredCount() != 1 {
		t.Errorf("stored count %d", sink.StoredCount())
	}

	sink.ErrorOnStore = errors.New("boom")
	if _, err := sink.Store(t.Context(), testFile(nil)); err == nil {
		t.Error("expected configured error")
	}
	if sink.StoredCount() != 1 {
		t.Error("failed store must not record the file")
	}

	if err := sink.Close(); err != nil || !sink.Closed {
		t.Errorf("close: err=%v closed=%v", err, sink.Closed)
	}
}

func TestMulti_PrimaryLocation(t *testing.T) {
	primary := NewStubSink()
	primary.Location = "primary://out"
	secondary := NewStubSink()
	secondary.Location = "secondary://out"

	m := NewMulti(primary, secondary)
	location, err := m.Store(t.Context(), testFile([]byte("x")))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if location != "primary://out" {
		t.Errorf("location %q, want the primary sink's", location)
	}
	if primary.StoredCount() != 1 || secondary.StoredCount() != 1 {
		t.Error("expected both sinks to receive the file")
	}
}

func TestMulti_ContinuesPastFailure(t *testing.T) {
	broken := NewStubSink()
	broken.ErrorOnStore = errors.New("disk gone")
	healthy := NewStubSink()

	m := NewMulti(broken, healthy)
	_, err := m.Store(t.Context(), testFile([]byte("x")))
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if healthy.StoredCount() != 1 {
		t.Error("later sink must still be attempted")
	}
}

func TestMulti_Close(t *testing.T) {
	a := NewStubSink()
	b := NewStubSink()
	if err := NewMulti(a, b).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.Closed || !b.Closed {
		t.Error("expected all sinks closed")
	}
}
