package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if inFlightActions == nil || jobsTotal == nil || cachePrunedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestEngineCollectors(t *testing.T) {
	SetInFlight(3)
	if val := testutil.ToFloat64(inFlightActions); val != 3 {
		t.Errorf("expected in-flight gauge 3, got %f", val)
	}
	SetWaiting(2)
	if val := testutil.ToFloat64(admissionWaiting); val != 2 {
		t.Errorf("expected waiting gauge 2, got %f", val)
	}

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("render", "success"))
	ObserveJob("render", "success")
	if val := testutil.ToFloat64(jobsTotal.WithLabelValues("render", "success")); val != before+1 {
		t.Errorf("expected jobs counter to advance by one, got %f -> %f", before, val)
	}

	prunedBefore := testutil.ToFloat64(cachePrunedTotal)
	errorsBefore := testutil.ToFloat64(cachePruneErrorsTotal)
	ObservePrune(4, 1)
	ObservePrune(0, 0)
	if val := testutil.ToFloat64(cachePrunedTotal); val != prunedBefore+4 {
		t.Errorf("expected pruned counter +4, got %f", val-prunedBefore)
	}
	if val := testutil.ToFloat64(cachePruneErrorsTotal); val != errorsBefore+1 {
		t.Errorf("expected prune error counter +1, got %f", val-errorsBefore)
	}

	ObserveAdmissionWait(50 * time.Millisecond)
	ObserveRateLimitDelay("global", 200*time.Millisecond)
	ObserveAttempt("render", "failure")
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
