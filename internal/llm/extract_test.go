package llm

import "testing"

func TestExtractJSONObject_BareJSON(t *testing.T) {
	// Returns the object when the response is bare JSON
	got, ok := ExtractJSONObject(`{"worker": "shell", "action": "execute_command"}`)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != `{"worker": "shell", "action": "execute_command"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_FencedBlock(t *testing.T) {
	// Returns the object when wrapped in ```json fences
	in := "```json\n{\"worker\": \"chat\"}\n```"
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != `{"worker": "chat"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_SurroundingProse(t *testing.T) {
	// Returns the first complete object when prose surrounds it
	in := "Sure, here is the instruction you asked for:\n{\"worker\": \"shell\"}\nLet me know if you need anything else."
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != `{"worker": "shell"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_MultipleObjectsFirstWins(t *testing.T) {
	// Returns the first valid object when several objects are emitted
	in := `{"a": 1} {"b": 2}`
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != `{"a": 1}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_SkipsMalformedCandidate(t *testing.T) {
	// Skips a malformed candidate and recovers a later valid object
	in := `{"broken": } then {"ok": true}`
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != `{"ok": true}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_BracesInsideStrings(t *testing.T) {
	// Braces inside string values never unbalance the scan
	in := `{"command": "awk '{print $1}'", "risk_level": "safe"}`
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != in {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_NestedObject(t *testing.T) {
	// Nested objects are returned whole, not truncated at the inner close
	in := `{"args": {"command": "ls", "dry_run": false}}`
	got, ok := ExtractJSONObject(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != in {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	// Returns ok=false when no complete object exists
	if _, ok := ExtractJSONObject("no json here at all"); ok {
		t.Error("expected ok=false")
	}
}

func TestExtractJSONObject_UnclosedObject(t *testing.T) {
	// An unclosed object cannot be recovered
	if _, ok := ExtractJSONObject(`{"worker": "shell"`); ok {
		t.Error("expected ok=false")
	}
}

func TestDecodeStringArray_CommandList(t *testing.T) {
	// Recovers a command array from fenced output
	in := "```json\n[\"docker ps\", \"docker inspect {name}\"]\n```"
	got, ok := DecodeStringArray(in)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(got) != 2 || got[0] != "docker ps" || got[1] != "docker inspect {name}" {
		t.Errorf("got %v", got)
	}
}

func TestDecodeObject_IgnoresUnknownKeys(t *testing.T) {
	// Only the outer shape is asserted; unknown keys are ignored
	var dst struct {
		Worker string `json:"worker"`
	}
	if !DecodeObject(`{"worker": "shell", "surprise": [1,2,3]}`, &dst) {
		t.Fatal("expected decode to succeed")
	}
	if dst.Worker != "shell" {
		t.Errorf("got %q", dst.Worker)
	}
}
