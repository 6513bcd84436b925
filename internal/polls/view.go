package polls

import (
	"time"

	"github.com/livepoll/backend/internal/models"
)

// ViewOf builds a detached client view of p. The view shares no memory with p.
func ViewOf(p *models.Poll, now time.Time) *models.PollView {
	if p == nil {
		return nil
	}
	v := &models.PollView{
		ID:          p.ID,
		RoomID:      p.RoomID,
		Question:    p.Question,
		Options:     append([]string(nil), p.Options...),
		Duration:    p.DurationSeconds,
		IsActive:    p.State == models.PollActive,
		State:       p.State,
		StartTime:   copyTime(p.StartedAt),
		EndTime:     copyTime(p.EndedAt),
		TimeLeft:    Remaining(p, now),
		TeacherID:   p.TeacherID,
		TeacherName: p.TeacherName,
		CreatedAt:   p.CreatedAt,
		Results:     Results(p),
		EndReason:   p.EndReason,
	}
	if p.CorrectAnswer != nil {
		idx := *p.CorrectAnswer
		v.CorrectAnswer = &idx
	}
	if p.State == models.PollEnded {
		v.FinalResults = Results(p)
	} else {
		v.FinalResults = map[string]models.OptionResult{}
	}
	if p.Summary != nil {
		s := *p.Summary
		v.Summary = &s
	}
	v.Responses = make(map[string]models.Response, len(p.Responses))
	for id, r := range p.Responses {
		v.Responses[id] = r
	}
	return v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
