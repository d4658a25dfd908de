package challenge

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fixedEngine always produces "7 * 4 = ?" at the given clock.
func fixedEngine(now func() time.Time) *Engine {
	picks := []int{7, 4, 2} // a=7, b=4, operator index 2 => "*"
	i := 0
	return NewEngine(slog.Default(),
		WithEngineClock(now),
		WithRandInt(func(min, max int) int {
			v := picks[i%len(picks)]
			i++
			return v
		}))
}

func TestEngine_GenerateShape(t *testing.T) {
	t.Parallel()

	e := NewEngine(slog.Default())
	for i := 0; i < 50; i++ {
		c := e.Generate()
		if c.Question == "" || c.AttemptID == "" {
			t.Fatalf("Generate() = %+v, want question and attemptId", c)
		}
		raw, err := base64.StdEncoding.DecodeString(c.AttemptID)
		if err != nil {
			t.Fatalf("attemptId not base64: %v", err)
		}
		// Recompute the answer the way a human would from the question,
		// and verify the round trip.
		if !e.Validate(c.AttemptID, answerFor(t, string(raw))) {
			t.Fatalf("freshly generated challenge failed validation: %s", c.Question)
		}
	}
}

// answerFor recomputes the expected answer from a decoded "a:op:b:issuedAt"
// token.
func answerFor(t *testing.T, raw string) int {
	t.Helper()
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		t.Fatalf("malformed token %q", raw)
	}
	a, errA := strconv.Atoi(parts[0])
	b, errB := strconv.Atoi(parts[2])
	if errA != nil || errB != nil {
		t.Fatalf("non-numeric operands in token %q", raw)
	}
	switch parts[1] {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	}
	t.Fatalf("unsupported operator %q", parts[1])
	return 0
}

func TestEngine_ValidateLifecycle(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	now := issued
	e := fixedEngine(func() time.Time { return now })

	c := e.Generate()
	if c.Question != "7 * 4 = ?" {
		t.Fatalf("Question = %q, want \"7 * 4 = ?\"", c.Question)
	}

	// Within the TTL the right answer passes, and passes again: tokens are
	// replayable inside the window, a documented weakness.
	now = issued.Add(time.Minute)
	if !e.Validate(c.AttemptID, 28) {
		t.Error("correct answer within TTL rejected")
	}
	if !e.Validate(c.AttemptID, 28) {
		t.Error("replay within TTL rejected; tokens are not single-use")
	}
	if e.Validate(c.AttemptID, 27) {
		t.Error("wrong answer accepted")
	}

	// Three minutes after issue the token is dead regardless of the answer.
	now = issued.Add(3 * time.Minute)
	if e.Validate(c.AttemptID, 28) {
		t.Error("correct answer after TTL accepted")
	}
}

func TestEngine_ValidateFailsClosed(t *testing.T) {
	t.Parallel()

	e := NewEngine(slog.Default())
	issued := strconv.FormatInt(time.Now().UnixMilli(), 10)

	b64 := func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}

	tests := []struct {
		name    string
		attempt string
	}{
		{"empty token", ""},
		{"not base64", "!!!not-base64!!!"},
		{"too few parts", b64("7:*:4")},
		{"too many parts", b64("7:*:4:5:6")},
		{"non-numeric operand", b64("x:*:4:" + issued)},
		{"non-numeric timestamp", b64("7:*:4:tomorrow")},
		{"unsupported operator", b64("7:/:4:" + issued)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if e.Validate(tt.attempt, 28) {
				t.Errorf("Validate(%q) = true, want fail-closed false", tt.attempt)
			}
		})
	}
}

func TestEngine_OperandRange(t *testing.T) {
	t.Parallel()

	e := NewEngine(slog.Default())
	for i := 0; i < 200; i++ {
		c := e.Generate()
		raw, err := base64.StdEncoding.DecodeString(c.AttemptID)
		if err != nil {
			t.Fatalf("attemptId not base64: %v", err)
		}
		parts := strings.Split(string(raw), ":")
		a, _ := strconv.Atoi(parts[0])
		b, _ := strconv.Atoi(parts[2])
		if a < minOperand || a > maxOperand || b < minOperand || b > maxOperand {
			t.Fatalf("operands %d, %d outside [%d, %d]", a, b, minOperand, maxOperand)
		}
	}
}
