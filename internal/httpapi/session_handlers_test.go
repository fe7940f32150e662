package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestSessionIssuesValidToken(t *testing.T) {
	g := newTestGateway(t, "ws://127.0.0.1:1")

	resp, err := http.Get(g.srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Token == "" {
		t.Fatal("empty token")
	}
	if err := g.issuer.Validate(body.Token); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}
}

func TestMetadata(t *testing.T) {
	g := newTestGateway(t, "ws://127.0.0.1:1")

	resp, err := http.Get(g.srv.URL + "/api/metadata")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["name"] != "livegate" {
		t.Errorf("name = %q, want livegate", got["name"])
	}
	if got["language"] != "Go" {
		t.Errorf("language = %q, want Go", got["language"])
	}
	if got["feature"] != "live-transcription" {
		t.Errorf("feature = %q", got["feature"])
	}
}

func TestHealthz(t *testing.T) {
	g := newTestGateway(t, "ws://127.0.0.1:1")

	resp, err := http.Get(g.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyzReportsDraining(t *testing.T) {
	g := newTestGateway(t, "ws://127.0.0.1:1")

	resp, err := http.Get(g.srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 before draining", resp.StatusCode)
	}

	g.conns.StartDraining()

	resp, err = http.Get(g.srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while draining", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "draining" {
		t.Errorf("body = %q, want %q", body, "draining")
	}
}

func TestCORSPreflight(t *testing.T) {
	g := newTestGateway(t, "ws://127.0.0.1:1")

	req, err := http.NewRequest(http.MethodOptions, g.srv.URL+"/api/session", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
