package relay

import "testing"

func TestSendQueue_DropsOverBudget(t *testing.T) {
	drops := 0
	q := newSendQueue(8, func() { drops++ })

	if !q.Enqueue([]byte("12345")) {
		t.Fatalf("expected first frame to fit")
	}
	if q.Enqueue([]byte("6789")) {
		t.Fatalf("expected frame over budget to be dropped")
	}
	if !q.Enqueue([]byte("678")) {
		t.Fatalf("expected frame filling the budget to fit")
	}
	if q.DropCount() != 1 || drops != 1 {
		t.Fatalf("drops=%d/%d, want 1", q.DropCount(), drops)
	}

	frame, ok := q.Dequeue()
	if !ok || string(frame) != "12345" {
		t.Fatalf("Dequeue=(%q,%v), want 12345", frame, ok)
	}
	if !q.Enqueue([]byte("abcde")) {
		t.Fatalf("expected space after dequeue")
	}
}

func TestSendQueue_CloseUnblocksDequeue(t *testing.T) {
	q := newSendQueue(8, nil)
	done := make(chan bool)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	q.Close()
	if ok := <-done; ok {
		t.Fatalf("Dequeue returned ok after Close")
	}
	if q.Enqueue([]byte("x")) {
		t.Fatalf("Enqueue succeeded after Close")
	}
}
