package delivery_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/flowbridge/delivery"
	"github.com/xraph/flowbridge/signature"
)

func ctx() context.Context { return context.Background() }

// recordPauses returns a pause func that records delays without sleeping.
func recordPauses(pauses *[]time.Duration) delivery.SenderOption {
	return delivery.WithPause(func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	})
}

func TestSendHappyPath(t *testing.T) {
	var gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	resp, err := delivery.NewSender().Send(ctx(), delivery.Request{
		URL:      srv.URL,
		Payload:  map[string]any{"booking_id": 42},
		Attempts: 3,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotContentType != "application/json" {
		t.Fatalf("expected application/json, got %q", gotContentType)
	}
	if gotBody != `{"booking_id":42}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if resp.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", resp.Attempts)
	}
	body, ok := resp.Body.(map[string]any)
	if !ok || body["status"] != "accepted" {
		t.Fatalf("expected decoded JSON body, got %#v", resp.Body)
	}
	if resp.AttemptID.IsNil() {
		t.Fatal("expected an attempt id")
	}
}

func TestSendRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	resp, err := delivery.NewSender().Send(ctx(), delivery.Request{URL: srv.URL, Payload: struct{}{}, Attempts: 1})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Body != "OK" {
		t.Fatalf("expected raw body OK, got %#v", resp.Body)
	}
}

func TestSendRetryBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	var pauses []time.Duration
	_, err := delivery.NewSender(recordPauses(&pauses)).Send(ctx(), delivery.Request{
		URL:      srv.URL,
		Payload:  map[string]any{},
		Attempts: 3,
		Delay:    5 * time.Second,
	})

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(pauses))
	}
	for _, p := range pauses {
		if p != 5*time.Second {
			t.Fatalf("expected fixed 5s delay, got %v", p)
		}
	}

	var failed *delivery.FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected FailedError, got %v", err)
	}
	if failed.Attempts != 3 {
		t.Fatalf("expected attempt count 3, got %d", failed.Attempts)
	}
	if failed.LastStatusCode() != 500 {
		t.Fatalf("expected last status 500, got %d", failed.LastStatusCode())
	}
	if !errors.Is(err, delivery.ErrDeliveryFailed) || !errors.Is(err, delivery.ErrUpstream) {
		t.Fatalf("expected ErrDeliveryFailed and ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSendSucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var pauses []time.Duration
	resp, err := delivery.NewSender(recordPauses(&pauses)).Send(ctx(), delivery.Request{
		URL:      srv.URL,
		Payload:  map[string]any{},
		Attempts: 5,
		Delay:    time.Second,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected success on attempt 3, got attempts=%d calls=%d", resp.Attempts, calls.Load())
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(pauses))
	}
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	var pauses []time.Duration
	_, err := delivery.NewSender(recordPauses(&pauses)).Send(ctx(), delivery.Request{
		URL:      srv.URL,
		Payload:  map[string]any{},
		Attempts: 2,
		Timeout:  20 * time.Millisecond,
	})
	if !errors.Is(err, delivery.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !delivery.IsTransport(err) || delivery.IsUpstream(err) {
		t.Fatal("expected transport classification only")
	}
}

func TestSendMissingURL(t *testing.T) {
	_, err := delivery.NewSender().Send(ctx(), delivery.Request{Payload: map[string]any{}})
	if !errors.Is(err, delivery.ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
}

func TestSendSigned(t *testing.T) {
	var verified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		verified = signature.VerifyRequest(r, b, "s3cret", 0) == nil
	}))
	defer srv.Close()

	if _, err := delivery.NewSender().Send(ctx(), delivery.Request{
		URL: srv.URL, Payload: map[string]any{"a": 1}, Attempts: 1, Secret: "s3cret",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !verified {
		t.Fatal("expected a verifiable signature")
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		res     delivery.Result
		attempt int
		want    delivery.Decision
	}{
		{"200", delivery.Result{StatusCode: 200}, 1, delivery.Delivered},
		{"204", delivery.Result{StatusCode: 204}, 3, delivery.Delivered},
		{"500 with attempts left", delivery.Result{StatusCode: 500}, 1, delivery.Retry},
		{"404 with attempts left", delivery.Result{StatusCode: 404}, 2, delivery.Retry},
		{"500 last attempt", delivery.Result{StatusCode: 500}, 3, delivery.Failed},
		{"transport error", delivery.Result{Error: "dial tcp: refused"}, 1, delivery.Retry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := delivery.Decide(tt.res, tt.attempt, 3); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
