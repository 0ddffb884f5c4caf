//go:build e2e

package comprehensive

import (
	"strings"
	"testing"
)

// ===== T2: Slash Command Tests (via REST gateway) =====

func TestCmd_Help(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/help")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if reply == "" {
		t.Fatal("expected non-empty reply from /help")
	}
	for _, keyword := range []string{"/help", "/gateway", "/skills", "/trigger", "/history", "/provider"} {
		if !strings.Contains(reply, keyword) {
			t.Errorf("expected /help response to contain %q, got: %.300s", keyword, reply)
		}
	}
}

func TestCmd_Skills(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/skills")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	for _, name := range []string{"Epistemic Hygiene", "Glitch Ritual", "Resonance Injection"} {
		if !strings.Contains(reply, name) {
			t.Errorf("expected /skills to list %q, got: %.300s", name, reply)
		}
	}
}

func TestCmd_GatewayStatus(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/gateway status")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(reply, "ONLINE") && !strings.Contains(reply, "OFFLINE") {
		t.Errorf("expected gateway state in reply, got: %.200s", reply)
	}

	_, reply = sendGatewayMessage(t, "e2e-user", "e2e", "/gateway sideways")
	if !strings.HasPrefix(reply, "Usage:") {
		t.Errorf("expected usage for bad argument, got: %.200s", reply)
	}
}

func TestCmd_Trigger(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/trigger nobody_listens")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if reply == "" {
		t.Fatal("expected non-empty reply from /trigger")
	}

	_, reply = sendGatewayMessage(t, "e2e-user", "e2e", `/trigger system_idle {nope`)
	if !strings.HasPrefix(reply, "Invalid payload") {
		t.Errorf("expected invalid payload reply, got: %.200s", reply)
	}
}

func TestCmd_History(t *testing.T) {
	sendGatewayMessage(t, "e2e-user", "e2e", "/trigger nobody_listens")
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/history 3")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(reply, "nobody_listens") {
		t.Errorf("expected recent trigger in history, got: %.300s", reply)
	}
}

func TestCmd_Provider(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/provider")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if reply == "" {
		t.Fatal("expected non-empty reply from /provider")
	}

	_, reply = sendGatewayMessage(t, "e2e-user", "e2e", "/provider no-such-provider")
	if !strings.Contains(strings.ToLower(reply), "unknown") {
		t.Errorf("expected unknown provider reply, got: %.200s", reply)
	}
}

func TestCmd_Unknown(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "/doesnotexist")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.HasPrefix(reply, "Unknown command: /doesnotexist") {
		t.Errorf("expected unknown command reply, got: %.200s", reply)
	}
}

func TestChat_FiledAsMail(t *testing.T) {
	status, reply := sendGatewayMessage(t, "e2e-user", "e2e", "just saying hi")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if reply == "" {
		t.Fatal("expected a dispatch summary for chat")
	}
}
