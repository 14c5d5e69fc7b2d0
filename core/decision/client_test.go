package decision

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecideReturnsResponseText(t *testing.T) {
	var gotBody decisionRequestBody
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("expected json request body, got error %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"response":   "Payroll approved.",
			"receipt_id": "rcpt-42",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithHTTPClient(server.Client()),
		WithTenantID("tenant-1"),
		WithTokenSource(func() string { return "token-1" }),
	)
	res, err := client.Decide(t.Context(),
		Request{Agent: "runway", Text: "approve payroll", VoiceID: "aria", Channel: "voice"},
		Metadata{TraceID: "trace-1", CorrelationID: "corr-1"},
	)
	if err != nil {
		t.Fatalf("expected decide to succeed, got %v", err)
	}
	if res.Text != "Payroll approved." {
		t.Fatalf("expected response text, got %q", res.Text)
	}
	if res.ReceiptID != "rcpt-42" {
		t.Fatalf("expected receipt id rcpt-42, got %q", res.ReceiptID)
	}

	if gotBody.Agent != "runway" || gotBody.Text != "approve payroll" ||
		gotBody.VoiceID != "aria" || gotBody.Channel != "voice" {
		t.Fatalf("expected full request body, got %+v", gotBody)
	}
	if got := gotHeader.Get("X-Trace-Id"); got != "trace-1" {
		t.Fatalf("expected trace id header, got %q", got)
	}
	if got := gotHeader.Get("X-Correlation-Id"); got != "corr-1" {
		t.Fatalf("expected correlation id header, got %q", got)
	}
	if got := gotHeader.Get("X-Tenant-Id"); got != "tenant-1" {
		t.Fatalf("expected tenant id header, got %q", got)
	}
	if got := gotHeader.Get("Authorization"); got != "Bearer token-1" {
		t.Fatalf("expected bearer token header, got %q", got)
	}
}

func TestDecideFallsBackToTextField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "Done."}) //nolint:errcheck
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	res, err := client.Decide(t.Context(), Request{Text: "hi"}, Metadata{})
	if err != nil {
		t.Fatalf("expected decide to succeed, got %v", err)
	}
	if res.Text != "Done." {
		t.Fatalf("expected fallback to text field, got %q", res.Text)
	}
}

func TestDecideOmitsAbsentCredentials(t *testing.T) {
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"}) //nolint:errcheck
	}))
	defer server.Close()

	client := NewClient(server.URL, WithHTTPClient(server.Client()))
	if _, err := client.Decide(t.Context(), Request{Text: "hi"}, Metadata{}); err != nil {
		t.Fatalf("expected decide to succeed, got %v", err)
	}
	if got := gotHeader.Get("Authorization"); got != "" {
		t.Fatalf("expected no bearer token, got %q", got)
	}
	if got := gotHeader.Get("X-Tenant-Id"); got != "" {
		t.Fatalf("expected no tenant header, got %q", got)
	}
}

func TestDecideErrorMessages(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "response field", status: 500, body: `{"response":"Payroll is locked."}`, want: "Payroll is locked."},
		{name: "message field", status: 400, body: `{"message":"bad request"}`, want: "bad request"},
		{name: "error field", status: 403, body: `{"error":"forbidden"}`, want: "forbidden"},
		{name: "raw text", status: 502, body: "upstream exploded", want: "upstream exploded"},
		{name: "empty body", status: 504, body: "", want: "Service returned 504"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body)) //nolint:errcheck
			}))
			defer server.Close()

			client := NewClient(server.URL, WithHTTPClient(server.Client()))
			_, err := client.Decide(t.Context(), Request{Text: "hi"}, Metadata{})
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if err.Error() != tc.want {
				t.Fatalf("expected message %q, got %q", tc.want, err.Error())
			}
		})
	}
}
