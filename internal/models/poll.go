package models

import "time"

// PollState is the lifecycle state of a poll.
type PollState string

const (
	PollDraft  PollState = "draft"
	PollActive PollState = "active"
	PollEnded  PollState = "ended"
)

// EndReason records why a poll ended.
type EndReason string

const (
	EndReasonTeacher EndReason = "teacher"
	EndReasonExpired EndReason = "expired"
)

// Response is one participant's accepted answer.
type Response struct {
	ParticipantID string    `json:"participantId"`
	StudentName   string    `json:"studentName"`
	OptionIndex   int       `json:"optionIndex"`
	Answer        string    `json:"answer"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Poll is a timed multiple-choice question owned by a room session.
// Tally[i] is the running count for Options[i].
type Poll struct {
	ID              string
	RoomID          string
	Question        string
	Options         []string
	CorrectAnswer   *int
	DurationSeconds int
	State           PollState
	StartedAt       *time.Time
	EndedAt         *time.Time
	Deadline        time.Time
	EndReason       EndReason
	Responses       map[string]Response
	Tally           []int
	TeacherID       string
	TeacherName     string
	CreatedAt       time.Time
	Summary         *Summary
	// Archived is set once the poll has been appended to the session history.
	Archived bool
}

// OptionResult is the per-option aggregate sent to clients.
type OptionResult struct {
	Count      int  `json:"count"`
	Percentage int  `json:"percentage"`
	IsCorrect  bool `json:"isCorrect"`
}

// Summary is computed when a poll ends. Correctness fields are only meaningful when Graded.
type Summary struct {
	TotalResponses      int    `json:"totalResponses"`
	Graded              bool   `json:"graded"`
	CorrectAnswer       string `json:"correctAnswer,omitempty"`
	CorrectResponses    int    `json:"correctResponses"`
	IncorrectResponses  int    `json:"incorrectResponses"`
	CorrectPercentage   int    `json:"correctPercentage"`
	IncorrectPercentage int    `json:"incorrectPercentage"`
}

// PollView is the client-facing representation of a poll.
type PollView struct {
	ID            string                  `json:"id"`
	RoomID        string                  `json:"roomId"`
	Question      string                  `json:"question"`
	Options       []string                `json:"options"`
	Duration      int                     `json:"duration"`
	CorrectAnswer *int                    `json:"correctAnswer"`
	IsActive      bool                    `json:"isActive"`
	State         PollState               `json:"state"`
	StartTime     *time.Time              `json:"startTime"`
	EndTime       *time.Time              `json:"endTime"`
	TimeLeft      int                     `json:"timeLeft"`
	TeacherID     string                  `json:"teacherId"`
	TeacherName   string                  `json:"teacherName"`
	CreatedAt     time.Time               `json:"createdAt"`
	Results       map[string]OptionResult `json:"results"`
	FinalResults  map[string]OptionResult `json:"finalResults"`
	Summary       *Summary                `json:"summary"`
	Responses     map[string]Response     `json:"responses"`
	EndReason     EndReason               `json:"endReason,omitempty"`
}
