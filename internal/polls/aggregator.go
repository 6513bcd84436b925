package polls

import (
	"math"
	"time"

	"github.com/livepoll/backend/internal/models"
)

// Submit records a response for the current poll and bumps the running tally.
// Checks run in order (not active, already responded, invalid option) before anything is written.
func (m *Machine) Submit(participantID, studentName string, optionIndex int, now time.Time) (*models.Poll, error) {
	p := m.store.Current()
	if p == nil || p.State != models.PollActive || !now.Before(p.Deadline) {
		return nil, ErrNotActive
	}
	if _, ok := p.Responses[participantID]; ok {
		return nil, ErrAlreadyResponded
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return nil, ErrInvalidOption.WithMessage("option index %d out of range [0,%d)", optionIndex, len(p.Options))
	}
	p.Responses[participantID] = models.Response{
		ParticipantID: participantID,
		StudentName:   studentName,
		OptionIndex:   optionIndex,
		Answer:        p.Options[optionIndex],
		SubmittedAt:   now,
	}
	p.Tally[optionIndex]++
	return p, nil
}

// ResolveOption maps an option's text to its index on the current poll.
func (m *Machine) ResolveOption(text string) (int, error) {
	p := m.store.Current()
	if p == nil {
		return 0, ErrNotActive
	}
	for i, opt := range p.Options {
		if opt == text {
			return i, nil
		}
	}
	return 0, ErrInvalidOption.WithMessage("unknown option %q", text)
}

// TotalResponses is the number of accepted responses.
func TotalResponses(p *models.Poll) int {
	return len(p.Responses)
}

// Recount rebuilds the tally from the stored responses.
func Recount(p *models.Poll) []int {
	counts := make([]int, len(p.Options))
	for _, r := range p.Responses {
		counts[r.OptionIndex]++
	}
	return counts
}

// Results returns per-option counts and percentages keyed by option text.
func Results(p *models.Poll) map[string]models.OptionResult {
	total := TotalResponses(p)
	out := make(map[string]models.OptionResult, len(p.Options))
	for i, opt := range p.Options {
		out[opt] = models.OptionResult{
			Count:      p.Tally[i],
			Percentage: percentage(p.Tally[i], total),
			IsCorrect:  p.CorrectAnswer != nil && *p.CorrectAnswer == i,
		}
	}
	return out
}

// Summarize computes the end-of-poll summary.
func Summarize(p *models.Poll) *models.Summary {
	total := TotalResponses(p)
	s := &models.Summary{TotalResponses: total}
	if p.CorrectAnswer == nil {
		return s
	}
	correct := p.Tally[*p.CorrectAnswer]
	s.Graded = true
	s.CorrectAnswer = p.Options[*p.CorrectAnswer]
	s.CorrectResponses = correct
	s.IncorrectResponses = total - correct
	s.CorrectPercentage = percentage(correct, total)
	s.IncorrectPercentage = percentage(total-correct, total)
	return s
}

func percentage(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}
