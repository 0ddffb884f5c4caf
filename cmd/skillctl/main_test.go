package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeServer answers the handful of endpoints skillctl uses and records the
// last request body per path.
func fakeServer(t *testing.T) (*httptest.Server, map[string]string) {
	t.Helper()
	bodies := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"active":true,"state":"ONLINE"}`)
	})
	mux.HandleFunc("/gateway/toggle", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies[r.URL.Path] = string(b)
		io.WriteString(w, `{"active":false,"state":"OFFLINE"}`)
	})
	mux.HandleFunc("/api/gateway/adapters", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"platform":"rest","connected":true,"details":"0 waiting"}]`)
	})
	mux.HandleFunc("/api/triggers/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies[r.URL.Path] = string(b)
		if strings.HasSuffix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"decode broken payload"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"trigger":  strings.TrimPrefix(r.URL.Path, "/api/triggers/"),
			"state":    "ONLINE",
			"statuses": []string{"Purged 2 low-vibe signals"},
		})
	})
	mux.HandleFunc("/api/skills", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"glitch_ritual","name":"Glitch Ritual","description":"d","triggers":["system_idle","moon_phase_change"]}]`)
	})
	mux.HandleFunc("/api/dispatches", func(w http.ResponseWriter, r *http.Request) {
		bodies[r.URL.Path] = r.URL.RawQuery
		io.WriteString(w, `[{"trigger":"system_idle","state":"OFFLINE","suppressed":true}]`)
	})
	mux.HandleFunc("/api/metrics/keystrokes", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies[r.URL.Path] = string(b)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"cpm":420,"backspaces":21}`)
	})
	mux.HandleFunc("/api/gateway/rest/message", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]string{"platform": "rest", "content": "echo: " + req["content"]})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, bodies
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	ts, _ := fakeServer(t)
	out, err := execute(t, "", "status", "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "ONLINE") || !strings.Contains(out, "rest (0 waiting)") {
		t.Errorf("output = %q", out)
	}
}

func TestToggle(t *testing.T) {
	ts, bodies := fakeServer(t)
	out, err := execute(t, "", "toggle", "off", "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !strings.Contains(out, "OFFLINE") {
		t.Errorf("output = %q", out)
	}
	if bodies["/gateway/toggle"] != `{"active":false}` {
		t.Errorf("body = %q", bodies["/gateway/toggle"])
	}

	if _, err := execute(t, "", "toggle", "sideways", "--server", ts.URL); err == nil {
		t.Error("want error for unknown state")
	}
}

func TestTrigger(t *testing.T) {
	ts, bodies := fakeServer(t)
	out, err := execute(t, "", "trigger", "email_received", `{"ids":["a"]}`, "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !strings.Contains(out, "Purged 2 low-vibe signals") {
		t.Errorf("output = %q", out)
	}
	if bodies["/api/triggers/email_received"] != `{"ids":["a"]}` {
		t.Errorf("body = %q", bodies["/api/triggers/email_received"])
	}

	if _, err := execute(t, "", "trigger", "x", "{nope", "--server", ts.URL); err == nil {
		t.Error("want error for invalid JSON")
	}
	_, err = execute(t, "", "trigger", "broken", "--server", ts.URL)
	if err == nil || !strings.Contains(err.Error(), "decode broken payload") {
		t.Errorf("err = %v", err)
	}
}

func TestSkillsAndHistory(t *testing.T) {
	ts, bodies := fakeServer(t)
	out, err := execute(t, "", "skills", "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	if !strings.Contains(out, "Glitch Ritual") || !strings.Contains(out, "system_idle, moon_phase_change") {
		t.Errorf("skills output = %q", out)
	}

	out, err = execute(t, "", "history", "-n", "3", "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if bodies["/api/dispatches"] != "limit=3" {
		t.Errorf("query = %q", bodies["/api/dispatches"])
	}
	if !strings.Contains(out, "Gateway is OFFLINE; no skills ran.") {
		t.Errorf("history output = %q", out)
	}
}

func TestType(t *testing.T) {
	ts, bodies := fakeServer(t)
	out, err := execute(t, "", "type", "--chars", "420", "--backspaces", "21", "--server", ts.URL, "--json=false")
	if err != nil {
		t.Fatalf("type: %v", err)
	}
	if !strings.Contains(out, "cpm=420 backspaces=21") {
		t.Errorf("output = %q", out)
	}
	if bodies["/api/metrics/keystrokes"] != `{"backspaces":21,"chars":420}` {
		t.Errorf("body = %q", bodies["/api/metrics/keystrokes"])
	}
}

func TestChat(t *testing.T) {
	ts, _ := fakeServer(t)
	out, err := execute(t, "hello\n\nquit\n", "chat", "--server", ts.URL)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "echo: hello") || !strings.Contains(out, "Bye!") {
		t.Errorf("output = %q", out)
	}
}
