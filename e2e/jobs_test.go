package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

const validBuildRequest = `{
	"projectId": "proj-e2e",
	"task": "full-build",
	"source": {"type": "git", "url": "https://example.com/content.git"},
	"callbackUrl": "https://example.com/hooks/build"
}`

func TestBuildStartAccepted(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/build", validBuildRequest)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	body := parseJSON(t, resp)
	if body["jobId"] == "" || body["jobId"] == nil {
		t.Errorf("response missing jobId: %v", body)
	}
	if body["status"] != "queued" {
		t.Errorf("status = %v, want queued", body["status"])
	}
}

func TestBuildStartValidation(t *testing.T) {
	ta := setupApp(t)

	cases := map[string]string{
		"missing task":     `{"projectId":"p","source":{"type":"git","url":"https://x.test/r.git"},"callbackUrl":"https://x.test/cb"}`,
		"unknown task":     `{"projectId":"p","task":"rebuild-universe","source":{"type":"git","url":"https://x.test/r.git"},"callbackUrl":"https://x.test/cb"}`,
		"bad callback url": `{"projectId":"p","task":"full-build","source":{"type":"git","url":"https://x.test/r.git"},"callbackUrl":"not-a-url"}`,
		"empty body":       ``,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/build", body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestBuildStatusLifecycle(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/build", validBuildRequest)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	jobID := parseJSON(t, resp)["jobId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, fmt.Sprintf("/api/jobs/build/%s", jobID), "")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	status := parseJSON(t, resp)
	if status["projectId"] != "proj-e2e" || status["task"] != "full-build" {
		t.Errorf("status record wrong: %v", status)
	}

	// result is not available before the worker completes the job
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, fmt.Sprintf("/api/jobs/build/%s/result", jobID), "")
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestBuildStatusNotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/build/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestBuildRequiresAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs/build", validBuildRequest, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)

	resp, err = doRequest(ta.app, http.MethodPost, "/api/jobs/build", validBuildRequest, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["status"] != "ok" {
		t.Errorf("health status = %v", body["status"])
	}
}
