package chatkey

import "testing"

func TestStringParseRoundTrip(t *testing.T) {
	k := Key{ConversationID: 42, ThreadID: 7, AgentID: "researcher"}

	parsed, err := Parse(k.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != k {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, k)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{"", "1:2", "x:2:agent", "1:x:agent"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", c)
		}
	}
}
