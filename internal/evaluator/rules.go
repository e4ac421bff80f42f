package evaluator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/Iron-Ham/hotlabel/internal/response"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

// Score adjustments applied on top of the neutral starting score.
const (
	baseScore        = 0.5
	fastPenalty      = 0.2
	wrongPenalty     = 0.3
	correctBonus     = 0.3
	ratingMin        = 1
	ratingMax        = 5
	answerField      = "answer"
	floatEqualMargin = 1e-9
)

// Verdict is the outcome of evaluating one response.
type Verdict struct {
	Status response.Status
	Score  float64
	Level  response.QualityLevel
	Reason string
}

// Accepted reports whether the response was accepted.
func (v Verdict) Accepted() bool {
	return v.Status == response.StatusAccepted
}

// answerOf returns the answer carried by payload. An object with an
// "answer" member is unwrapped; anything else is the answer itself.
func answerOf(payload []byte) gjson.Result {
	res := gjson.ParseBytes(payload)
	if res.IsObject() {
		if a := res.Get(answerField); a.Exists() {
			return a
		}
	}
	return res
}

// checkShape verifies the answer has the form the task type expects.
func checkShape(task *taskstore.Task, answer gjson.Result) error {
	switch task.Type {
	case taskstore.TypeMultipleChoice:
		if answer.Type != gjson.String {
			return fmt.Errorf("multiple-choice answer must be a choice key")
		}
		if _, ok := task.Question.Choices[answer.Str]; !ok {
			return fmt.Errorf("unknown choice %q", answer.Str)
		}
	case taskstore.TypeTrueFalse:
		if answer.Type != gjson.True && answer.Type != gjson.False {
			return fmt.Errorf("true-false answer must be a boolean")
		}
	case taskstore.TypeRating:
		if answer.Type != gjson.Number && answer.Type != gjson.String {
			return fmt.Errorf("rating must be a number")
		}
		v, err := cast.ToFloat64E(answer.Value())
		if err != nil {
			return fmt.Errorf("rating must be a number")
		}
		if v < ratingMin || v > ratingMax {
			return fmt.Errorf("rating %v outside %d-%d", v, ratingMin, ratingMax)
		}
	case taskstore.TypeShortAnswer, taskstore.TypeVQA:
		if answer.Type != gjson.String || strings.TrimSpace(answer.Str) == "" {
			return fmt.Errorf("%s answer must be non-empty text", task.Type)
		}
	default:
		return fmt.Errorf("unknown task type %q", task.Type)
	}
	return nil
}

// sameAnswer compares two answers loosely: text ignores case and
// surrounding space, numbers compare by value.
func sameAnswer(a, b gjson.Result) bool {
	switch {
	case a.Type == gjson.String && b.Type == gjson.String:
		return strings.EqualFold(strings.TrimSpace(a.Str), strings.TrimSpace(b.Str))
	case a.Type == gjson.Number || b.Type == gjson.Number:
		x, errA := cast.ToFloat64E(a.Value())
		y, errB := cast.ToFloat64E(b.Value())
		return errA == nil && errB == nil && math.Abs(x-y) < floatEqualMargin
	case a.Type == gjson.True || a.Type == gjson.False:
		return a.Type == b.Type
	default:
		return gjson.Get(a.Raw, "@ugly").Raw == gjson.Get(b.Raw, "@ugly").Raw
	}
}

// Evaluate scores r against task. Responses faster than the plausibility
// threshold (the larger of minLatency and the task's minimum completion
// time) and responses of the wrong shape are rejected. A known answer
// moves the score but never rejects on its own.
func Evaluate(task *taskstore.Task, r *response.Response, minLatency time.Duration) Verdict {
	answer := answerOf(r.Payload)
	if err := checkShape(task, answer); err != nil {
		return verdict(response.StatusRejected, 0, "invalid answer: "+err.Error())
	}

	score := baseScore
	var reasons []string

	if len(task.KnownAnswer) > 0 {
		if sameAnswer(answer, answerOf(task.KnownAnswer)) {
			score += correctBonus
			reasons = append(reasons, "matches known answer")
		} else {
			score -= wrongPenalty
			reasons = append(reasons, "differs from known answer")
		}
	}

	threshold := max(minLatency, task.MinCompletion())
	latency := time.Duration(r.LatencyMS) * time.Millisecond
	if latency < threshold {
		score -= fastPenalty
		reasons = append(reasons, fmt.Sprintf("answered in %v, below %v", latency, threshold))
		return verdict(response.StatusRejected, score, "low effort: "+strings.Join(reasons, "; "))
	}

	return verdict(response.StatusAccepted, score, strings.Join(reasons, "; "))
}

func verdict(status response.Status, score float64, reason string) Verdict {
	// Round away float noise so 0.5-0.3 lands on the 0.2 boundary.
	score = math.Round(max(0, min(1, score))*1000) / 1000
	return Verdict{Status: status, Score: score, Level: response.LevelFor(score), Reason: reason}
}
