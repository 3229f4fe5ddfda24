package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lcerda/pushledger/internal/retry"
)

func TestHTTPGatewaySendMulticastSuccess(t *testing.T) {
	t.Parallel()

	var gotBody multicastRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"messageId":"m1"},{"error":"unregistered","message":"token gone"}]}`))
	}))
	defer server.Close()

	g, err := NewHTTPGateway(server.URL, "secret")
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}

	resp, err := g.SendMulticast(context.Background(), []string{"tok-a", "tok-b"}, Message{
		Title: "hello",
		Body:  "world",
		Data:  map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("SendMulticast() error = %v", err)
	}

	if resp.SuccessCount != 1 || resp.FailureCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", resp.SuccessCount, resp.FailureCount)
	}
	if resp.Results[0].MessageID != "m1" {
		t.Fatalf("MessageID = %q, want m1", resp.Results[0].MessageID)
	}

	var sendErr *SendError
	if !errors.As(resp.Results[1].Err, &sendErr) {
		t.Fatalf("expected SendError, got %T", resp.Results[1].Err)
	}
	if sendErr.Reason != ReasonUnregistered {
		t.Fatalf("Reason = %s, want unregistered", sendErr.Reason)
	}
	if !sendErr.PermanentlyInvalid() {
		t.Fatal("unregistered token should be permanently invalid")
	}

	if len(gotBody.Tokens) != 2 || gotBody.Tokens[0] != "tok-a" {
		t.Fatalf("request tokens = %v, want [tok-a tok-b]", gotBody.Tokens)
	}
	if gotBody.Title != "hello" || gotBody.Body != "world" {
		t.Fatalf("request payload = %q/%q, want hello/world", gotBody.Title, gotBody.Body)
	}
}

func TestHTTPGatewayEmptyTokensIsNoop(t *testing.T) {
	t.Parallel()

	g, err := NewHTTPGateway("https://push.example.com/v1/send", "")
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}

	resp, err := g.SendMulticast(context.Background(), nil, Message{Title: "x"})
	if err != nil {
		t.Fatalf("SendMulticast() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("Results = %d, want 0", len(resp.Results))
	}
}

func TestHTTPGatewayStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad request is terminal", statusCode: http.StatusBadRequest, wantTransient: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer server.Close()

			g, err := NewHTTPGateway(server.URL, "")
			if err != nil {
				t.Fatalf("NewHTTPGateway() error = %v", err)
			}

			_, err = g.SendMulticast(context.Background(), []string{"tok-a"}, Message{Title: "x"})
			if err == nil {
				t.Fatal("expected error")
			}

			gotTransient := retry.Classify(err) == retry.Transient
			if gotTransient != tc.wantTransient {
				t.Fatalf("Classify() transient = %v, want %v", gotTransient, tc.wantTransient)
			}
		})
	}
}

func TestHTTPGatewayResultCountMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"messageId":"m1"}]}`))
	}))
	defer server.Close()

	g, err := NewHTTPGateway(server.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}

	_, err = g.SendMulticast(context.Background(), []string{"tok-a", "tok-b"}, Message{})
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want SendError", err)
	}
	if sendErr.Reason != ReasonInternal {
		t.Fatalf("Reason = %s, want internal", sendErr.Reason)
	}
}

func TestNewHTTPGatewayValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPGateway("", ""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPGateway("::not-a-url", ""); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
	if _, err := NewHTTPGatewayWithClient("https://push.example.com", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
