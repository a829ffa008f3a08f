package feishu

import (
	"testing"
	"time"
)

func TestMessageDeduperSeen(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	d := newMessageDeduper(4, time.Minute)
	d.now = func() time.Time { return now }

	if d.Seen("acc:om_1") {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !d.Seen("acc:om_1") {
		t.Fatal("second sighting within ttl must be a duplicate")
	}
	if d.Seen("") || d.Seen("") {
		t.Fatal("blank keys are never duplicates")
	}

	now = now.Add(2 * time.Minute)
	if d.Seen("acc:om_1") {
		t.Fatal("entry past ttl must be accepted again")
	}
}

func TestMessageDeduperEvictsOldest(t *testing.T) {
	t.Parallel()

	d := newMessageDeduper(2, time.Hour)
	d.Seen("a")
	d.Seen("b")
	d.Seen("c")
	if d.Seen("a") {
		t.Fatal("evicted key should be treated as new")
	}
	if !d.Seen("c") {
		t.Fatal("recent key should still be tracked")
	}
}
