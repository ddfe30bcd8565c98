package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"ghost-systems/internal/models"
	"ghost-systems/internal/retry"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testPolicy(rec *sleepRecorder) retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: rec.sleep}
}

func mugJob() models.Job {
	return models.Job{
		ID:          "job-1",
		ProductType: models.ProductMug,
		Title:       "Cyber Mug",
		Price:       18.50,
		ImageURL:    "https://x/img.png",
		AutoPublish: false,
	}
}

func newPrintfulServer(t *testing.T, failures int32, calls *int32, got *printfulRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if r.URL.Path != "/store/products" || r.Header.Get("Authorization") != "Bearer pf-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if n <= failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		_, _ = w.Write([]byte(`{"code":200,"result":{"id":4242,"name":"Cyber Mug"}}`))
	}))
}

func TestPrintfulCreatesDraftProduct(t *testing.T) {
	var calls int32
	var got printfulRequest
	srv := newPrintfulServer(t, 0, &calls, &got)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	rec := &sleepRecorder{}
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(rec), log)

	res, err := pf.Fulfill(context.Background(), mugJob())
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if res.RemoteID != "4242" {
		t.Fatalf("expected remote id 4242, got %q", res.RemoteID)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if got.Publish {
		t.Fatalf("expected draft (publish=false)")
	}
	if len(got.SyncVariants) != 1 || got.SyncVariants[0].VariantID != 7710 || got.SyncVariants[0].RetailPrice != "18.50" {
		t.Fatalf("unexpected variants: %+v", got.SyncVariants)
	}
	if got.SyncProduct.Thumbnail != "https://x/img.png" || got.SyncVariants[0].Files[0].URL != "https://x/img.png" {
		t.Fatalf("image not forwarded: %+v", got)
	}
}

func TestPrintfulMissingImageMakesNoCall(t *testing.T) {
	var calls int32
	srv := newPrintfulServer(t, 0, &calls, nil)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	job := mugJob()
	job.ImageURL = ""
	_, err := pf.Fulfill(context.Background(), job)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected zero outbound calls, got %d", calls)
	}
}

func TestPrintfulMissingPriceMakesNoCall(t *testing.T) {
	var calls int32
	srv := newPrintfulServer(t, 0, &calls, nil)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	for _, price := range []float64{0, -4} {
		job := mugJob()
		job.Price = price
		_, err := pf.Fulfill(context.Background(), job)
		if !errors.Is(err, ErrMissingField) || Reason(err) != "validation" {
			t.Fatalf("price %v: expected ErrMissingField, got %v", price, err)
		}
	}
	if calls != 0 {
		t.Fatalf("expected zero outbound calls, got %d", calls)
	}
}

func TestPrintfulMissingKeyMakesNoCall(t *testing.T) {
	var calls int32
	srv := newPrintfulServer(t, 0, &calls, nil)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	_, err := pf.Fulfill(context.Background(), mugJob())
	if !errors.Is(err, ErrNotConfigured) || Reason(err) != "configuration" {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected zero outbound calls, got %d", calls)
	}
}

func TestPrintfulRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := newPrintfulServer(t, 2, &calls, nil)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	rec := &sleepRecorder{}
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(rec), log)

	if _, err := pf.Fulfill(context.Background(), mugJob()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(rec.delays) != 2 || rec.delays[1] != 2*rec.delays[0] {
		t.Fatalf("expected doubling delays, got %v", rec.delays)
	}
}

func TestPrintfulExhaustsBudget(t *testing.T) {
	var calls int32
	srv := newPrintfulServer(t, 100, &calls, nil)
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	_, err := pf.Fulfill(context.Background(), mugJob())
	if !errors.Is(err, retry.ErrExhausted) || Reason(err) != "transient_exhausted" {
		t.Fatalf("expected exhausted, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("expected last status error kept, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestPrintfulClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad variant"}`))
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	_, err := pf.Fulfill(context.Background(), mugJob())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestPrintfulInvalidBodyIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"code":200,"result":{}}`))
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pf := NewPrintful(PrintfulConfig{BaseURL: srv.URL, APIKey: "pf-key"}, srv.Client(), testPolicy(&sleepRecorder{}), log)

	_, err := pf.Fulfill(context.Background(), mugJob())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote for missing id, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("semantically invalid 2xx must not be retried, got %d calls", calls)
	}
}
