// Package challenge implements the stateless human-verification scheme that
// gates sensitive public mutations. The server stores nothing: the puzzle is
// encoded into an opaque token the backend can decode and recompute at
// verification time.
package challenge

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Operand range and supported operators. The range keeps answers trivially
// human-computable.
const (
	minOperand = 3
	maxOperand = 9
)

var operators = []string{"+", "-", "*"}

// TTL is how long a generated challenge stays verifiable.
const TTL = 2 * time.Minute

// Challenge is what the caller receives: the question and an opaque attempt
// token. The expected answer is never transmitted or stored.
type Challenge struct {
	Question  string `json:"question"`
	AttemptID string `json:"attemptId"`
}

// Engine generates and validates challenges.
//
// Known weakness, kept deliberately: tokens are not single-use. There is no
// replay store, so a captured token+answer pair validates any number of
// times inside the TTL window.
type Engine struct {
	logger  *slog.Logger
	now     func() time.Time
	randInt func(min, max int) int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock injects a clock, for deterministic tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRandInt injects the operand picker, for deterministic tests.
func WithRandInt(f func(min, max int) int) EngineOption {
	return func(e *Engine) { e.randInt = f }
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logger: logger,
		now:    time.Now,
		randInt: func(min, max int) int {
			return min + rand.Intn(max-min+1)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate picks two operands and an operator and encodes them, with the
// issue timestamp, into the attempt token.
// Token format (opaque to callers): base64("a:op:b:issuedAtMillis").
func (e *Engine) Generate() Challenge {
	a := e.randInt(minOperand, maxOperand)
	b := e.randInt(minOperand, maxOperand)
	op := operators[e.randInt(0, len(operators)-1)]
	issuedAt := e.now().UnixMilli()

	raw := fmt.Sprintf("%d:%s:%d:%d", a, op, b, issuedAt)
	return Challenge{
		Question:  fmt.Sprintf("%d %s %d = ?", a, op, b),
		AttemptID: base64.StdEncoding.EncodeToString([]byte(raw)),
	}
}

// Validate decodes the token, checks the TTL, recomputes the expected result
// and compares it exactly against the supplied answer. Any anomaly fails
// closed: malformed token, non-numeric fields, unsupported operator, expired
// challenge, wrong answer — all collapse to false.
func (e *Engine) Validate(attemptID string, answer int) bool {
	if attemptID == "" {
		return false
	}
	a, op, b, issuedAt, ok := decodeAttemptID(attemptID)
	if !ok {
		return false
	}

	if e.now().UnixMilli()-issuedAt > TTL.Milliseconds() {
		return false
	}

	var expected int
	switch op {
	case "+":
		expected = a + b
	case "-":
		expected = a - b
	case "*":
		expected = a * b
	default:
		return false
	}
	return answer == expected
}

// decodeAttemptID reverses the token encoding. Returns ok=false on any
// structural or numeric anomaly.
func decodeAttemptID(attemptID string) (a int, op string, b int, issuedAt int64, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(attemptID)
	if err != nil {
		return 0, "", 0, 0, false
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 4 {
		return 0, "", 0, 0, false
	}
	a, errA := strconv.Atoi(parts[0])
	b, errB := strconv.Atoi(parts[2])
	issuedAt, errT := strconv.ParseInt(parts[3], 10, 64)
	if errA != nil || errB != nil || errT != nil {
		return 0, "", 0, 0, false
	}
	return a, parts[1], b, issuedAt, true
}
