// Package testutil provides shared test helpers for the estimator packages
// and the HTTP surface.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// MaxAbsDiff returns the largest element-wise |a−b| over two equally
// shaped flat slices. NaN in either input yields NaN.
func MaxAbsDiff(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var worst float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if math.IsNaN(d) {
			return math.NaN()
		}
		worst = math.Max(worst, d)
	}
	return worst
}

// AssertAllNear fails the test when any element of got differs from want by
// more than tol.
func AssertAllNear(t testing.TB, want, got []float64, tol float64, msg string) {
	t.Helper()
	d := MaxAbsDiff(want, got)
	if !(d <= tol) {
		t.Errorf("%s: max |diff| = %g exceeds %g\nwant %v\ngot  %v", msg, d, tol, want, got)
	}
}
