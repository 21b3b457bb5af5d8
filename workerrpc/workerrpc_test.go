package workerrpc

import (
	"testing"
	"time"
)

func TestResolveDeliversMatchingResponse(t *testing.T) {
	tr := NewTracker(time.Second)
	req := NewRequest(TypeFind, "docs", false, nil, "")
	got := make(chan Response, 1)
	tr.Track(req, func(r Response) { got <- r })

	tr.Resolve(Response{ID: req.ID, Type: TypeFind, Count: 3})

	select {
	case r := <-got:
		if r.Count != 3 {
			t.Fatalf("expected count 3, got %d", r.Count)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolved response")
	}
}

func TestUnmatchedRequestSynthesizesTimeout(t *testing.T) {
	tr := NewTracker(20 * time.Millisecond)
	req := NewRequest(TypeInsert, "docs", false, nil, "")
	got := make(chan Response, 1)
	tr.Track(req, func(r Response) { got <- r })

	select {
	case r := <-got:
		if r.Err != ErrWorkerTimeout.Error() {
			t.Fatalf("expected timeout error, got %q", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected synthesized timeout response")
	}
}

func TestResolveAfterTimeoutIsNoOp(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)
	req := NewRequest(TypeRemove, "docs", false, nil, "")
	calls := make(chan Response, 2)
	tr.Track(req, func(r Response) { calls <- r })

	time.Sleep(30 * time.Millisecond)
	tr.Resolve(Response{ID: req.ID, Type: TypeRemove})

	if len(calls) != 1 {
		t.Fatalf("expected exactly one delivered response, got %d", len(calls))
	}
}
