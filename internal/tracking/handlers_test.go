package tracking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newTrackingApp(h *harness) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/tracking"), h.tracker, h.conn, func(c *fiber.Ctx) error { return c.Next() })
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestTrackingHandlersFlow(t *testing.T) {
	h := newHarness(t, true)
	app := newTrackingApp(h)

	if resp := doJSON(t, app, http.MethodPut, "/tracking/enabled", `{"enabled":true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("enable status %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodPut, "/tracking/profile", `{"uid":"pilot-1","licenseNumber":"L-42"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("profile status %d", resp.StatusCode)
	}
	h.tracker.Wait()

	resp := doJSON(t, app, http.MethodPost, "/tracking/start", `{"takeoff_site":"Hoher Kranz"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d", resp.StatusCode)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Active || st.TakeoffSite != "Hoher Kranz" || st.UID != "pilot-1" {
		t.Fatalf("unexpected status %+v", st)
	}

	resp = doJSON(t, app, http.MethodPost, "/tracking/positions", `{"lat":47.1,"lon":11.2,"alt":1500,"timestamp":"2026-06-01T10:00:00Z"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("position status %d", resp.StatusCode)
	}
	h.tracker.Wait()
	if h.remote.upsertCount() != 1 {
		t.Fatalf("expected first fix uploaded")
	}

	if resp := doJSON(t, app, http.MethodPost, "/tracking/stop", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status %d", resp.StatusCode)
	}
	h.tracker.Wait()
	if h.remote.landedCount() != 1 {
		t.Fatalf("expected landing mark")
	}
}

func TestTrackingHandlersBadRequests(t *testing.T) {
	h := newHarness(t, true)
	app := newTrackingApp(h)

	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/tracking/positions", `{"lat":120,"lon":11}`},
		{http.MethodPost, "/tracking/positions", `{`},
		{http.MethodPut, "/tracking/enabled", `{}`},
		{http.MethodPut, "/tracking/profile", `{"displayName":"Ana"}`},
		{http.MethodPut, "/tracking/connectivity", `{}`},
		{http.MethodPost, "/tracking/start", `{"position":{"lat":0,"lon":200}}`},
	}
	for _, tc := range cases {
		if resp := doJSON(t, app, tc.method, tc.path, tc.body); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s %s: expected bad request, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestTrackingHandlersConnectivityAndSync(t *testing.T) {
	h := newHarness(t, false)
	h.signIn()
	h.tracker.StartTracking("", nil)
	h.tracker.StopTracking()
	h.tracker.Wait()
	app := newTrackingApp(h)

	resp := doJSON(t, app, http.MethodGet, "/tracking/pending", "")
	var pending []PendingUpdate
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending entry, got %d %v", len(pending), err)
	}

	if resp := doJSON(t, app, http.MethodPut, "/tracking/connectivity", `{"online":true}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("connectivity status %d", resp.StatusCode)
	}
	if !h.conn.IsOnline() {
		t.Fatalf("expected pushed state applied")
	}

	resp = doJSON(t, app, http.MethodPost, "/tracking/sync", "")
	var out struct {
		Synced  int `json:"synced"`
		Pending int `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if out.Synced != 1 || out.Pending != 0 {
		t.Fatalf("unexpected sync result %+v", out)
	}
}

func TestTrackingHandlersWithoutConnectivitySetter(t *testing.T) {
	h := newHarness(t, true)
	app := fiber.New()
	RegisterRoutes(app.Group("/tracking"), h.tracker, nil, func(c *fiber.Ctx) error { return c.Next() })

	if resp := doJSON(t, app, http.MethodPut, "/tracking/connectivity", `{"online":true}`); resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected not implemented, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodDelete, "/tracking/session", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodDelete, "/tracking/profile", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear profile status %d", resp.StatusCode)
	}
}
