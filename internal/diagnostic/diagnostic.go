// Package diagnostic turns a raw quiz answer set into the structured payload
// stored on a lead: maturity score and level, primary challenge, quick wins,
// and an ROI estimate. Every mapping is a lookup table in tables.go. The
// package imports only lead and has no I/O.
package diagnostic

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

// UnknownAnswerError reports an answer value that no table knows.
type UnknownAnswerError struct {
	Question string
	Answer   string
}

func (e *UnknownAnswerError) Error() string {
	return fmt.Sprintf("diagnostic: unknown answer %q for %s", e.Answer, e.Question)
}

// MissingAnswerError reports a required question with no answer.
type MissingAnswerError struct {
	Question string
}

func (e *MissingAnswerError) Error() string {
	return fmt.Sprintf("diagnostic: %s is required", e.Question)
}

// Question lists one question id and its accepted answers.
type Question struct {
	ID      string
	Answers []string
}

// Questions returns every question and its enumerated answers, sorted.
func Questions() []Question {
	out := make([]Question, 0, len(points))
	for id, answers := range points {
		q := Question{ID: id}
		for a := range answers {
			q.Answers = append(q.Answers, a)
		}
		sort.Strings(q.Answers)
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Levels returns the maturity levels, lowest first.
func Levels() []string {
	return []string{LevelCritical, LevelDeveloping, LevelEstablished, LevelAdvanced}
}

// normalize trims every answer and drops empty ones.
func normalize(answers map[string]string) map[string]string {
	out := make(map[string]string, len(answers))
	for q, a := range answers {
		if a = strings.TrimSpace(a); a != "" {
			out[strings.TrimSpace(q)] = a
		}
	}
	return out
}

// Validate checks that the challenge question is answered and every known
// question has an enumerated answer. Unknown question ids are ignored so the
// front-end can add questions ahead of the backend.
func Validate(answers map[string]string) error {
	answers = normalize(answers)
	if _, ok := answers[QuestionChallenge]; !ok {
		return &MissingAnswerError{Question: QuestionChallenge}
	}
	for q, table := range points {
		a, ok := answers[q]
		if !ok {
			continue
		}
		if _, known := table[a]; !known {
			return &UnknownAnswerError{Question: q, Answer: a}
		}
	}
	return nil
}

// Score computes a 0–100 maturity score from the answered questions. It
// returns 0 when nothing scoreable was answered.
func Score(answers map[string]string) float64 {
	answers = normalize(answers)
	var got, possible int
	for q, table := range points {
		a, ok := answers[q]
		if !ok {
			continue
		}
		p, known := table[a]
		if !known {
			continue
		}
		got += p
		possible += 10
	}
	if possible == 0 {
		return 0
	}
	return math.Round(float64(got) / float64(possible) * 100)
}

// LevelForScore maps a 0–100 score onto a maturity level.
func LevelForScore(score float64) string {
	for _, t := range levelThresholds {
		if score >= t.floor {
			return t.level
		}
	}
	return LevelCritical
}

// Derive builds the stored diagnostic payload. A negative score means the
// submission carried none and it is computed from the answers; an empty
// level is derived from the score.
func Derive(answers map[string]string, score float64, level string) (lead.DiagnosticData, error) {
	if err := Validate(answers); err != nil {
		return lead.DiagnosticData{}, err
	}
	answers = normalize(answers)

	if score < 0 {
		score = Score(answers)
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = LevelForScore(score)
	}
	roi, ok := roiByLevel[level]
	if !ok {
		return lead.DiagnosticData{}, &UnknownAnswerError{Question: "level", Answer: level}
	}

	challenge := answers[QuestionChallenge]
	if adj, ok := timeToValueAdjustByTeamSize[answers[QuestionTeamSize]]; ok {
		roi.TimeToValueDays += adj
	}

	wins := append([]lead.QuickWin(nil), quickWinsByChallenge[challenge]...)
	if extra, ok := extraQuickWinByTooling[answers[QuestionTooling]]; ok {
		wins = append(wins, extra)
	}
	if len(wins) > MaxQuickWins {
		wins = wins[:MaxQuickWins]
	}

	return lead.DiagnosticData{
		Score:            score,
		Level:            level,
		PrimaryChallenge: challengeByAnswer[challenge],
		QuickWins:        wins,
		EstimatedROI:     roi,
		Answers:          answers,
	}, nil
}
