package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bundlepress/api/internal/model"
)

// CallbackDeliverer POSTs the completion envelope to the job's callback
// URL. Exactly one attempt per job: delivery failure is logged and
// audit-recorded but never retried, and the job outcome stands either way.
type CallbackDeliverer struct {
	httpClient *http.Client
}

func NewCallbackDeliverer() *CallbackDeliverer {
	return &CallbackDeliverer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Deliver sends the envelope and returns the audit record of the attempt
func (d *CallbackDeliverer) Deliver(ctx context.Context, url string, envelope *model.CallbackEnvelope) *model.CallbackAttempt {
	attempt := &model.CallbackAttempt{
		URL:         url,
		AttemptedAt: time.Now(),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		attempt.Error = fmt.Sprintf("marshal envelope: %v", err)
		log.Printf("Callback for job %s not delivered: %s", envelope.JobID, attempt.Error)
		return attempt
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		attempt.Error = fmt.Sprintf("build request: %v", err)
		log.Printf("Callback for job %s not delivered: %s", envelope.JobID, attempt.Error)
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		attempt.Error = err.Error()
		log.Printf("Callback for job %s not delivered: %v", envelope.JobID, err)
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	if resp.StatusCode >= 300 {
		attempt.Error = fmt.Sprintf("callback returned %d", resp.StatusCode)
		log.Printf("Callback for job %s rejected: %d", envelope.JobID, resp.StatusCode)
	} else {
		log.Printf("Callback for job %s delivered: %d", envelope.JobID, resp.StatusCode)
	}
	return attempt
}
