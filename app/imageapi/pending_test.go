package imageapi

import (
	"testing"
	"time"
)

func TestQueueEmpty(t *testing.T) {
	var q OpQueue
	if _, ok := q.TryTakeDue(false); ok {
		t.Fatal("empty queue handed out an operation")
	}
}

func TestQueueSingleConsumption(t *testing.T) {
	var q OpQueue
	q.Submit(PendingOp{Payload: []byte{1}, Timeout: time.Second})

	op, ok := q.TryTakeDue(false)
	if !ok || len(op.Payload) != 1 {
		t.Fatalf("take = %v, %v", op, ok)
	}
	// The same submission must never be handed out twice.
	if _, ok := q.TryTakeDue(false); ok {
		t.Fatal("operation consumed twice")
	}
}

func TestQueueReplacement(t *testing.T) {
	var q OpQueue
	q.Submit(PendingOp{Payload: []byte{1}})
	q.Submit(PendingOp{Payload: []byte{2}})

	op, ok := q.TryTakeDue(false)
	if !ok {
		t.Fatal("no operation after two submissions")
	}
	if op.Payload[0] != 2 {
		t.Fatalf("got payload %d, replacement must win", op.Payload[0])
	}
	if _, ok := q.TryTakeDue(false); ok {
		t.Fatal("replaced operation still delivered")
	}
}

func TestQueueRenderBusy(t *testing.T) {
	var q OpQueue
	q.Submit(PendingOp{Dismiss: true})

	if _, ok := q.TryTakeDue(true); ok {
		t.Fatal("operation delivered while render context busy")
	}
	op, ok := q.TryTakeDue(false)
	if !ok || !op.Dismiss {
		t.Fatalf("operation lost across a busy poll: %v, %v", op, ok)
	}
}

func TestQueueSubmitAfterConsume(t *testing.T) {
	var q OpQueue
	q.Submit(PendingOp{Payload: []byte{1}})
	if _, ok := q.TryTakeDue(false); !ok {
		t.Fatal("first take failed")
	}
	q.Submit(PendingOp{Payload: []byte{2}})
	op, ok := q.TryTakeDue(false)
	if !ok || op.Payload[0] != 2 {
		t.Fatalf("second cycle broken: %v, %v", op, ok)
	}
}
