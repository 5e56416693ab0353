package tokens

import "testing"

func TestCountDeterministic(t *testing.T) {
	prompt := "Write an onboarding article about dental coverage."
	response := "<opening>Hi</opening><title>Dental</title>"

	first := Count(prompt, response)
	for range 10 {
		if got := Count(prompt, response); got != first {
			t.Fatalf("count changed between calls: %d then %d", first, got)
		}
	}
	if first <= 0 {
		t.Errorf("expected positive count, got %d", first)
	}
}

func TestCountEmpty(t *testing.T) {
	if got := Count("", ""); got != 0 {
		t.Errorf("empty inputs counted %d, want 0", got)
	}
}

func TestCountNonNegativeAndAdditive(t *testing.T) {
	promptOnly := Count("some prompt text here", "")
	responseOnly := Count("", "some response text back")
	both := Count("some prompt text here", "some response text back")

	if promptOnly < 0 || responseOnly < 0 {
		t.Fatal("counts must be non-negative")
	}
	if both != promptOnly+responseOnly {
		t.Errorf("count is not additive: %d + %d != %d", promptOnly, responseOnly, both)
	}
}

func TestCountWordFloor(t *testing.T) {
	// Eleven one-letter words: rune-based estimate would undercount.
	if got := Count("a b c d e f g h i j k", ""); got < 11 {
		t.Errorf("count %d is below the word floor of 11", got)
	}
}
