package intake

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/nyashahama/consulting-leads-backend/internal/diagnostic"
)

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every rejected field of a submission.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "intake: invalid submission: " + strings.Join(parts, "; ")
}

// Validate checks a submission without touching any store. It returns
// ValidationErrors listing every problem, or nil.
func Validate(s Submission) error {
	var errs ValidationErrors

	addr := strings.TrimSpace(s.Email)
	switch {
	case addr == "":
		errs = append(errs, ValidationError{"email", "is required"})
	default:
		parsed, err := mail.ParseAddress(addr)
		if err != nil || parsed.Address != addr || !strings.Contains(addr[strings.LastIndex(addr, "@")+1:], ".") {
			errs = append(errs, ValidationError{"email", "is not a valid address"})
		}
	}

	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, ValidationError{"name", "is required"})
	}

	if s.Score != nil && (*s.Score < 0 || *s.Score > 100) {
		errs = append(errs, ValidationError{"score", "must be between 0 and 100"})
	}

	if len(s.Answers) == 0 {
		errs = append(errs, ValidationError{"answers", "are required"})
	} else if err := diagnostic.Validate(s.Answers); err != nil {
		var (
			missing *diagnostic.MissingAnswerError
			unknown *diagnostic.UnknownAnswerError
		)
		switch {
		case errors.As(err, &missing):
			errs = append(errs, ValidationError{"answers." + missing.Question, "is required"})
		case errors.As(err, &unknown):
			errs = append(errs, ValidationError{"answers." + unknown.Question, "has unknown value " + `"` + unknown.Answer + `"`})
		default:
			errs = append(errs, ValidationError{"answers", err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
