package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/delivery-system/internal/model"
)

func TestSend_OK(t *testing.T) {
	received := make(chan Event, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/events" {
			t.Fatalf("path = %s, want /api/events", r.URL.Path)
		}

		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		received <- e
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Event{
		Type:           EventAssigned,
		OrderID:        10,
		DeliveryUserID: 5,
		OccurredAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	e := <-received
	if e.Type != EventAssigned || e.OrderID != 10 || e.DeliveryUserID != 5 {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestSend_StatusChanged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.Status != model.OrderStatusEnRoute {
			t.Fatalf("status = %s, want EN_ROUTE", e.Status)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Event{
		Type:           EventStatusChanged,
		OrderID:        10,
		DeliveryUserID: 5,
		Status:         model.OrderStatusEnRoute,
		OccurredAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	client := NewClient("")

	err := client.Send(context.Background(), Event{Type: EventAssigned})
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
