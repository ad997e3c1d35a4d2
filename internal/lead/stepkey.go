package lead

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StepKey identifies one (sequence, day) step. A lead receives each key at
// most once.
type StepKey struct {
	SequenceID string
	Day        int
}

const stepKeySep = ":day:"

// String renders the key as "<sequence>:day:<n>".
func (k StepKey) String() string {
	return k.SequenceID + stepKeySep + strconv.Itoa(k.Day)
}

// ParseStepKey is the inverse of StepKey.String.
func ParseStepKey(s string) (StepKey, error) {
	i := strings.LastIndex(s, stepKeySep)
	if i <= 0 {
		return StepKey{}, fmt.Errorf("lead: malformed step key %q", s)
	}
	day, err := strconv.Atoi(s[i+len(stepKeySep):])
	if err != nil || day < 0 {
		return StepKey{}, fmt.Errorf("lead: malformed step key day in %q", s)
	}
	return StepKey{SequenceID: s[:i], Day: day}, nil
}

// StepSet is the set of step keys already dispatched for a lead.
type StepSet map[StepKey]struct{}

// NewStepSet returns a set holding keys.
func NewStepSet(keys ...StepKey) StepSet {
	s := make(StepSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has is safe on a nil set.
func (s StepSet) Has(k StepKey) bool {
	_, ok := s[k]
	return ok
}

func (s StepSet) Add(k StepKey) { s[k] = struct{}{} }

func (s StepSet) Len() int { return len(s) }

// Keys returns the keys ordered by sequence id, then day.
func (s StepSet) Keys() []StepKey {
	keys := make([]StepKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SequenceID != keys[j].SequenceID {
			return keys[i].SequenceID < keys[j].SequenceID
		}
		return keys[i].Day < keys[j].Day
	})
	return keys
}

// MarshalJSON encodes the set as a sorted array of key strings.
func (s StepSet) MarshalJSON() ([]byte, error) {
	keys := s.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the array form written by MarshalJSON.
func (s *StepSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lead: step set: %w", err)
	}
	set := make(StepSet, len(raw))
	for _, r := range raw {
		k, err := ParseStepKey(r)
		if err != nil {
			return err
		}
		set.Add(k)
	}
	*s = set
	return nil
}
