package tokenize

import "testing"

func TestCount_Empty(t *testing.T) {
	if got := Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCount_NonEmpty(t *testing.T) {
	got := Count("the quick brown fox jumps over the lazy dog")
	if got <= 0 {
		t.Errorf("Count(...) = %d, want > 0", got)
	}
}

func TestCount_Monotonic(t *testing.T) {
	short := Count("hello")
	long := Count("hello hello hello hello hello hello hello hello")
	if long <= short {
		t.Errorf("longer text should have more tokens: short=%d long=%d", short, long)
	}
}

func TestCountMessages(t *testing.T) {
	msgs := []TextMessage{
		{Role: "user", Content: "hello there"},
		{Role: "assistant", Content: "hi, how can I help?"},
	}
	got := CountMessages(msgs)
	want := Count(msgs[0].Content) + Count(msgs[0].Role) + perMessageOverhead +
		Count(msgs[1].Content) + Count(msgs[1].Role) + perMessageOverhead
	if got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}
}

func TestCountJoined(t *testing.T) {
	a := CountJoined("line one", "line two")
	b := Count("line one\nline two")
	if a != b {
		t.Errorf("CountJoined = %d, want %d", a, b)
	}
}
