package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bundlepress/api/internal/model"
)

func TestDeliverPostsEnvelopeOnce(t *testing.T) {
	var calls int32
	var received model.CallbackEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	envelope := &model.CallbackEnvelope{
		JobID:       "job-1",
		Status:      model.JobStatusCompleted,
		Result:      &model.BuildResult{ProjectID: "p", Posts: 3},
		ProcessedAt: time.Now(),
		Duration:    1234,
	}

	attempt := NewCallbackDeliverer().Deliver(context.Background(), srv.URL, envelope)

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("callback delivered %d times, want exactly 1", calls)
	}
	if attempt.StatusCode != http.StatusOK || attempt.Error != "" {
		t.Errorf("attempt = %+v", attempt)
	}
	if received.JobID != "job-1" || received.Result == nil || received.Result.Posts != 3 {
		t.Errorf("envelope not delivered intact: %+v", received)
	}
}

func TestDeliverRecordsRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	attempt := NewCallbackDeliverer().Deliver(context.Background(), srv.URL, &model.CallbackEnvelope{JobID: "job-2"})

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("rejected callback must not be retried, got %d calls", calls)
	}
	if attempt.StatusCode != http.StatusInternalServerError || attempt.Error == "" {
		t.Errorf("rejection not recorded: %+v", attempt)
	}
}

func TestDeliverRecordsTransportFailure(t *testing.T) {
	attempt := NewCallbackDeliverer().Deliver(context.Background(), "http://127.0.0.1:1/unreachable", &model.CallbackEnvelope{JobID: "job-3"})

	if attempt.Error == "" {
		t.Error("transport failure must be recorded on the attempt")
	}
	if attempt.AttemptedAt.IsZero() {
		t.Error("attempt timestamp missing")
	}
}

func TestDeliverFailureEnvelopeCarriesError(t *testing.T) {
	var received model.CallbackEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	msg := "source acquisition: git clone failed"
	NewCallbackDeliverer().Deliver(context.Background(), srv.URL, &model.CallbackEnvelope{
		JobID:  "job-4",
		Status: model.JobStatusFailed,
		Error:  &msg,
	})

	if received.Status != model.JobStatusFailed || received.Error == nil || *received.Error != msg {
		t.Errorf("failure envelope wrong: %+v", received)
	}
	if received.Result != nil {
		t.Error("failure envelope must not carry a result")
	}
}
