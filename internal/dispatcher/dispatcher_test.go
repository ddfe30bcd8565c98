package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"ghost-systems/internal/fulfillment"
	"ghost-systems/internal/models"
	"ghost-systems/internal/retry"
	"ghost-systems/internal/store/memstore"
)

type fakeFulfiller struct {
	name  string
	calls int32
	err   error
	panic bool
	delay time.Duration
}

func (f *fakeFulfiller) Name() string { return f.name }

func (f *fakeFulfiller) Fulfill(ctx context.Context, job models.Job) (fulfillment.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panic {
		panic("nil map write")
	}
	if f.err != nil {
		return fulfillment.Result{}, f.err
	}
	return fulfillment.Result{RemoteID: "remote-1"}, nil
}

func (f *fakeFulfiller) count() int32 { return atomic.LoadInt32(&f.calls) }

type fakeReview struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeReview) Push(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

// flakyStore rejects claim and/or finish writes.
type flakyStore struct {
	*memstore.Store
	claimErr  error
	finishErr error
}

func (f *flakyStore) ClaimJob(ctx context.Context, id string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	return f.Store.ClaimJob(ctx, id)
}

func (f *flakyStore) FinishJob(ctx context.Context, id string, status models.Status) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	return f.Store.FinishJob(ctx, id, status)
}

func create(t *testing.T, st *memstore.Store, job models.Job) models.Job {
	t.Helper()
	created, err := st.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return created
}

func assertHistory(t *testing.T, st *memstore.Store, id string, want ...models.Status) {
	t.Helper()
	got := st.StatusHistory(id)
	if len(got) != len(want) {
		t.Fatalf("status history %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status history %v, want %v", got, want)
		}
	}
}

func hasMarker(hook *logtest.Hook, marker string) bool {
	for _, e := range hook.AllEntries() {
		if e.Data["marker"] == marker {
			return true
		}
	}
	return false
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestScenarioMugGoesToPODAsDraft(t *testing.T) {
	var calls int32
	var body struct {
		Publish bool `json:"publish"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"result":{"id":55,"name":"Mug"}}`))
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}
	pod := fulfillment.NewPrintful(fulfillment.PrintfulConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), policy, log)
	st := memstore.New()
	d := New(st, pod, &fakeFulfiller{name: "shopify"}, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.50, ImageURL: "https://x/img.png", AutoPublish: false})
	if got := d.Dispatch(context.Background(), job); got != models.StatusComplete {
		t.Fatalf("expected complete, got %s", got)
	}
	assertHistory(t, st, job.ID, models.StatusPending, models.StatusProcessing, models.StatusComplete)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one POD call, got %d", calls)
	}
	if body.Publish {
		t.Fatalf("expected draft publish flag")
	}

	trail, _ := st.AuditTrail(context.Background(), job.ID)
	if len(trail) != 2 || trail[1].Event != "complete" || trail[1].Detail != "remote_id=55" {
		t.Fatalf("unexpected audit trail: %+v", trail)
	}
}

func TestScenarioPromptPackageGoesToStorefront(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"product":{"id":77}}`))
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}
	shop := fulfillment.NewShopify(fulfillment.ShopifyConfig{StoreURL: srv.URL, APIKey: "k", APIPassword: "p"}, srv.Client(), policy, log)
	pod := &fakeFulfiller{name: "printful"}
	st := memstore.New()
	d := New(st, pod, shop, log)

	job := create(t, st, models.Job{ProductType: models.ProductAIPromptPackage, Title: "Prompts", Price: 12.50, Description: "..."})
	if got := d.Dispatch(context.Background(), job); got != models.StatusComplete {
		t.Fatalf("expected complete, got %s", got)
	}
	assertHistory(t, st, job.ID, models.StatusPending, models.StatusProcessing, models.StatusComplete)
	if atomic.LoadInt32(&calls) != 1 || pod.count() != 0 {
		t.Fatalf("expected storefront only, storefront=%d pod=%d", calls, pod.count())
	}
}

func TestScenarioUnsupportedAndUnknownRoutes(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	pod := &fakeFulfiller{name: "printful"}
	shop := &fakeFulfiller{name: "shopify"}
	st := memstore.New()
	review := &fakeReview{}
	d := New(st, pod, shop, log, WithReview(review))

	gadget := create(t, st, models.Job{ProductType: models.ProductTechGadget, Title: "Gadget", Price: 10})
	if got := d.Dispatch(context.Background(), gadget); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	assertHistory(t, st, gadget.ID, models.StatusPending, models.StatusProcessing, models.StatusFailed)
	if !hasMarker(hook, MarkerRouteUnsupported) || hasMarker(hook, MarkerRouteUnknown) {
		t.Fatalf("expected only the unsupported marker")
	}

	hook.Reset()
	unknown := create(t, st, models.Job{ProductType: "Hoverboard", Title: "Board", Price: 99})
	if got := d.Dispatch(context.Background(), unknown); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if !hasMarker(hook, MarkerRouteUnknown) || hasMarker(hook, MarkerRouteUnsupported) {
		t.Fatalf("expected only the unknown marker")
	}

	if pod.count()+shop.count() != 0 {
		t.Fatalf("expected zero outbound calls, got pod=%d shop=%d", pod.count(), shop.count())
	}
	if len(review.ids) != 2 {
		t.Fatalf("expected both failures pushed to review, got %v", review.ids)
	}
}

func TestMissingImageFailsWithoutRemoteCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	pod := fulfillment.NewPrintful(fulfillment.PrintfulConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), retry.DefaultPolicy(), log)
	st := memstore.New()
	d := New(st, pod, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductTShirt, Title: "Tee", Price: 25})
	if got := d.Dispatch(context.Background(), job); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected zero outbound calls, got %d", calls)
	}
}

func TestTransientFailuresThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"id":1}}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Sleep: func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}}
	log, _ := logtest.NewNullLogger()
	pod := fulfillment.NewPrintful(fulfillment.PrintfulConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), policy, log)
	st := memstore.New()
	d := New(st, pod, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	if got := d.Dispatch(context.Background(), job); got != models.StatusComplete {
		t.Fatalf("expected complete, got %s", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != 50*time.Millisecond || delays[1] != 100*time.Millisecond {
		t.Fatalf("expected delays [50ms 100ms], got %v", delays)
	}
}

func TestPersistentFailureExhaustsBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log, _ := logtest.NewNullLogger()
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}
	pod := fulfillment.NewPrintful(fulfillment.PrintfulConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), policy, log)
	st := memstore.New()
	d := New(st, pod, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	if got := d.Dispatch(context.Background(), job); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	trail, _ := st.AuditTrail(context.Background(), job.ID)
	last := trail[len(trail)-1]
	if last.Event != "failed" {
		t.Fatalf("expected failed audit, got %+v", last)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	st := memstore.New()
	d := New(st, &fakeFulfiller{name: "printful", panic: true}, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	if got := d.Dispatch(context.Background(), job); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	stored, _ := st.GetJob(context.Background(), job.ID)
	if stored.Status != models.StatusFailed {
		t.Fatalf("expected stored failed, got %s", stored.Status)
	}
}

func TestUnconfiguredRouteFails(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	st := memstore.New()
	d := New(st, nil, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductBundle, Title: "Bundle", Price: 129})
	if got := d.Dispatch(context.Background(), job); got != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestClaimWriteFailureStillProcesses(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	mem := memstore.New()
	st := &flakyStore{Store: mem, claimErr: errors.New("permission denied")}
	pod := &fakeFulfiller{name: "printful"}
	d := New(st, pod, nil, log)

	job := create(t, mem, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	if got := d.Dispatch(context.Background(), job); got != models.StatusComplete {
		t.Fatalf("expected complete, got %s", got)
	}
	if pod.count() != 1 {
		t.Fatalf("expected worker invoked once, got %d", pod.count())
	}
	stored, _ := mem.GetJob(context.Background(), job.ID)
	if stored.Status != models.StatusComplete {
		t.Fatalf("final write must happen even when the claim failed, got %s", stored.Status)
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "claim write failed, processing anyway" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected claim failure to be logged")
	}
}

func TestFinishWriteFailureIsLogged(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	mem := memstore.New()
	st := &flakyStore{Store: mem, finishErr: errors.New("unavailable")}
	d := New(st, &fakeFulfiller{name: "printful"}, nil, log)

	job := create(t, mem, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	if got := d.Dispatch(context.Background(), job); got != models.StatusComplete {
		t.Fatalf("expected complete outcome, got %s", got)
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "final status write failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected finish failure to be logged")
	}
}

// Two deliveries of the same added notification race; the conditional claim
// lets exactly one of them reach the backend.
func TestRedeliveredJobCreatesOneRemoteProduct(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	st := memstore.New()
	pod := &fakeFulfiller{name: "printful", delay: 50 * time.Millisecond}
	d := New(st, pod, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})

	var wg sync.WaitGroup
	results := make([]models.Status, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Dispatch(context.Background(), job)
		}(i)
	}
	wg.Wait()

	if pod.count() != 1 {
		t.Fatalf("expected exactly one remote call, got %d", pod.count())
	}
	completes := 0
	for _, r := range results {
		if r == models.StatusComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Fatalf("expected one completed dispatch, got %v", results)
	}
	assertHistory(t, st, job.ID, models.StatusPending, models.StatusProcessing, models.StatusComplete)
}

func TestCompletedJobIsNeverTouchedAgain(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	st := memstore.New()
	pod := &fakeFulfiller{name: "printful"}
	d := New(st, pod, nil, log)

	job := create(t, st, models.Job{ProductType: models.ProductMug, Title: "Mug", Price: 18.5, ImageURL: "https://x/i.png"})
	d.Dispatch(context.Background(), job)
	d.Dispatch(context.Background(), job)

	if pod.count() != 1 {
		t.Fatalf("expected one remote call, got %d", pod.count())
	}
	assertHistory(t, st, job.ID, models.StatusPending, models.StatusProcessing, models.StatusComplete)
}
