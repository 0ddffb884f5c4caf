package bus

import (
	"testing"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/trigger"
)

func TestDecodeTrigger(t *testing.T) {
	name, payload, err := decodeTrigger(map[string]interface{}{
		"data": `{"trigger":"typing_metrics","payload":{"cpm":500,"backspaces":25}}`,
	})
	if err != nil {
		t.Fatalf("decodeTrigger: %v", err)
	}
	if name != trigger.TypingMetrics {
		t.Errorf("name = %s", name)
	}
	snap, ok := payload.(capability.MetricsSnapshot)
	if !ok || snap.CPM != 500 || snap.Backspaces != 25 {
		t.Errorf("payload = %#v", payload)
	}
}

func TestDecodeTriggerRejectsMalformed(t *testing.T) {
	cases := []map[string]interface{}{
		{},
		{"data": 42},
		{"data": "not json"},
		{"data": `{"payload":{}}`},
		{"data": `{"trigger":"system_idle","payload":"oops"}`},
	}
	for i, c := range cases {
		if _, _, err := decodeTrigger(c); err == nil {
			t.Errorf("case %d: want error", i)
		}
	}
}
