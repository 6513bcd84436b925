// Package session runs one single-writer coordinator per room. Every state change in a room
// (polls, presence, chat, countdown) flows through the coordinator's event stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/chat"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/presence"
	"github.com/livepoll/backend/internal/timer"
	"github.com/livepoll/backend/pkg/apperr"
)

var (
	// ErrBusy is returned when the room's event buffer is full.
	ErrBusy = errors.New("session: room is busy, try again")
	// ErrStopped is returned once the coordinator has shut down.
	ErrStopped = errors.New("session: room is closed")
)

// DefaultKickReason is used when the teacher gives none.
const DefaultKickReason = "You have been removed by the teacher"

const archiveTimeout = 10 * time.Second

// Archiver persists finished polls and presence changes outside the event loop.
type Archiver interface {
	ArchivePoll(ctx context.Context, poll *models.PollView) error
	LogPresence(ctx context.Context, rec models.PresenceRecord) error
}

type nopArchiver struct{}

func (nopArchiver) ArchivePoll(context.Context, *models.PollView) error      { return nil }
func (nopArchiver) LogPresence(context.Context, models.PresenceRecord) error { return nil }

// Options tunes a coordinator.
type Options struct {
	Policy        polls.Policy
	ChatLimit     int
	ChatMaxLength int
	TickInterval  time.Duration
	EventBuffer   int
	Clock         func() time.Time
}

// DefaultOptions returns the stock room settings.
func DefaultOptions() Options {
	return Options{
		Policy:        polls.DefaultPolicy(),
		ChatLimit:     chat.DefaultHistoryLimit,
		ChatMaxLength: chat.DefaultMaxLength,
		TickInterval:  timer.DefaultInterval,
		EventBuffer:   256,
		Clock:         time.Now,
	}
}

// Coordinator owns one room's Session and applies events to it one at a time.
type Coordinator struct {
	roomID   string
	sess     *Session
	out      Broadcaster
	archiver Archiver
	timer    *timer.Scheduler
	now      func() time.Time
	logger   *zap.Logger

	events chan Event
	done   chan struct{}
	jobs   sync.WaitGroup
}

// NewCoordinator creates a coordinator for sess. archiver may be nil.
func NewCoordinator(sess *Session, out Broadcaster, archiver Archiver, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if archiver == nil {
		archiver = nopArchiver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	logger = logger.With(zap.String("room_id", sess.RoomID))
	return &Coordinator{
		roomID:   sess.RoomID,
		sess:     sess,
		out:      out,
		archiver: archiver,
		timer:    timer.NewScheduler(opts.TickInterval, opts.Clock, logger),
		now:      opts.Clock,
		logger:   logger,
		events:   make(chan Event, opts.EventBuffer),
		done:     make(chan struct{}),
	}
}

// RoomID returns the room this coordinator serves.
func (c *Coordinator) RoomID() string { return c.roomID }

// Done is closed after Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run processes events until ctx is cancelled. Pending archive jobs are awaited before it returns.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	defer c.jobs.Wait()
	defer c.timer.Cancel()

	c.logger.Info("room coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("room coordinator stopped")
			return
		case ev := <-c.events:
			c.process(ev)
		}
	}
}

// Submit enqueues ev without blocking.
func (c *Coordinator) Submit(ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return ErrBusy
	}
}

// enqueue blocks until ev is accepted, ctx is done or the coordinator stops.
func (c *Coordinator) enqueue(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Request submits ev and waits for its Result.
func (c *Coordinator) Request(ctx context.Context, ev Event) (Result, error) {
	reply := make(chan Result, 1)
	ev.meta().Reply = reply
	if err := c.Submit(ev); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-c.done:
		return Result{}, ErrStopped
	}
}

// Leave enqueues a Disconnect, waiting for buffer space until ctx is done.
func (c *Coordinator) Leave(ctx context.Context, id models.Identity, connID string) error {
	return c.enqueue(ctx, &Disconnect{Meta: Meta{ConnID: connID}, Identity: id})
}

func (c *Coordinator) process(ev Event) {
	m := ev.meta()
	res, notes := c.safeHandle(ev)
	for _, n := range notes {
		c.deliver(n)
	}
	if res.Err != nil {
		c.logger.Debug("event rejected",
			zap.String("event", eventName(ev)),
			zap.String("conn_id", m.ConnID),
			zap.String("code", apperr.CodeOf(res.Err)),
			zap.Error(res.Err))
		if m.Reply == nil && m.ConnID != "" {
			c.out.Send(c.roomID, m.ConnID, EventError, NewErrorPayload(res.Err))
		}
	}
	if m.Reply != nil {
		m.Reply <- res
	}
}

func (c *Coordinator) safeHandle(ev Event) (res Result, notes []Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				zap.String("event", eventName(ev)),
				zap.Any("panic", r))
			res = Result{Err: fmt.Errorf("session: %s panicked: %v", eventName(ev), r)}
			notes = nil
		}
	}()
	return c.handle(ev)
}

func (c *Coordinator) handle(ev Event) (Result, []Notification) {
	now := c.now()
	switch e := ev.(type) {
	case *JoinTeacher:
		return c.joinTeacher(e, now)
	case *JoinParticipant:
		return c.joinParticipant(e, now)
	case *Disconnect:
		return c.disconnect(e, now)
	case *CreatePoll:
		return c.createPoll(e, now)
	case *StartPoll:
		return c.startPoll(e, now)
	case *SubmitResponse:
		return c.submitResponse(e, now)
	case *EndPoll:
		return c.endPoll(e, now)
	case *Tick:
		return c.tick(e)
	case *Expire:
		return c.expire(e, now)
	case *SendChat:
		return c.sendChat(e, now)
	case *KickParticipant:
		return c.kick(e, now)
	case *RequestSnapshot:
		snap := c.sess.Snapshot(now)
		var notes []Notification
		if e.ConnID != "" && e.Reply == nil {
			notes = append(notes, sendTo(e.ConnID, EventSnapshot, snap))
		}
		return Result{Snapshot: snap}, notes
	default:
		return Result{Err: apperr.Validation("unsupported event %T", ev)}, nil
	}
}

func (c *Coordinator) deliver(n Notification) {
	switch {
	case n.Disconnect:
		c.out.Disconnect(c.roomID, n.ConnID)
	case n.ConnID == "":
		c.out.Broadcast(c.roomID, n.Event, n.Payload)
	default:
		c.out.Send(c.roomID, n.ConnID, n.Event, n.Payload)
	}
}

func (c *Coordinator) joinTeacher(e *JoinTeacher, now time.Time) (Result, []Notification) {
	if e.Identity.Role != models.RoleTeacher {
		return Result{Err: presence.ErrWrongRole}, nil
	}
	p, err := c.sess.Presence.Join(e.Identity, e.ConnID, now)
	if err != nil {
		return Result{Err: err}, nil
	}
	c.logPresence(p, models.PresenceJoin, "", now)
	return c.joined(e.ConnID, p, EventParticipantUpdate, now)
}

func (c *Coordinator) joinParticipant(e *JoinParticipant, now time.Time) (Result, []Notification) {
	if e.Identity.Role != models.RoleStudent {
		return Result{Err: presence.ErrWrongRole}, nil
	}
	p, err := c.sess.Presence.Join(e.Identity, e.ConnID, now)
	if err != nil {
		return Result{Err: err}, nil
	}
	c.logPresence(p, models.PresenceJoin, "", now)
	return c.joined(e.ConnID, p, EventParticipantJoined, now)
}

func (c *Coordinator) joined(connID string, p *models.Participant, event string, now time.Time) (Result, []Notification) {
	snap := c.sess.Snapshot(now)
	view := p.View()
	var notes []Notification
	if connID != "" {
		notes = append(notes, sendTo(connID, EventCurrentPoll, CurrentPollPayload{
			Poll:         snap.Poll,
			Participants: snap.Participants,
			ChatMessages: snap.ChatMessages,
		}))
	}
	notes = append(notes, broadcast(event, RosterPayload{Participants: snap.Participants}))
	return Result{Snapshot: snap, Participant: &view}, notes
}

func (c *Coordinator) disconnect(e *Disconnect, now time.Time) (Result, []Notification) {
	p, changed := c.sess.Presence.Leave(e.Identity.ID, e.ConnID)
	if !changed {
		return Result{}, nil
	}
	c.logPresence(p, models.PresenceLeave, "", now)
	view := p.View()
	res := Result{Participant: &view}
	if p.Role != models.RoleStudent {
		return res, nil
	}
	return res, []Notification{broadcast(EventParticipantUpdate, RosterPayload{Participants: c.sess.Presence.Roster()})}
}

func (c *Coordinator) createPoll(e *CreatePoll, now time.Time) (Result, []Notification) {
	if e.Actor.Role != models.RoleTeacher {
		return Result{Err: polls.ErrNotTeacher}, nil
	}
	p, err := c.sess.Polls.Create(e.Input, e.Actor, now)
	if err != nil {
		return Result{Err: err}, nil
	}
	c.logger.Info("poll created", zap.String("poll_id", p.ID), zap.Int("options", len(p.Options)))
	view := polls.ViewOf(p, now)
	return Result{Poll: view}, []Notification{broadcast(EventPollCreated, PollPayload{Poll: view})}
}

func (c *Coordinator) startPoll(e *StartPoll, now time.Time) (Result, []Notification) {
	if e.Actor.Role != models.RoleTeacher {
		return Result{Err: polls.ErrNotTeacher}, nil
	}
	p, err := c.sess.Polls.Start(e.PollID, e.Actor.ID, c.sess.Presence.TeacherID(), now)
	if err != nil {
		return Result{Err: err}, nil
	}
	c.timer.Arm(p.ID, p.Deadline, timerSink{c})
	c.logger.Info("poll started", zap.String("poll_id", p.ID), zap.Int("duration_sec", p.DurationSeconds))
	view := polls.ViewOf(p, now)
	return Result{Poll: view}, []Notification{broadcast(EventPollStarted, PollPayload{Poll: view})}
}

func (c *Coordinator) submitResponse(e *SubmitResponse, now time.Time) (Result, []Notification) {
	if c.sess.Presence.IsBarred(e.Actor.ID) {
		return Result{Err: presence.ErrBarred}, nil
	}
	if e.Actor.Role != models.RoleStudent {
		return Result{Err: presence.ErrWrongRole.WithMessage("only students can respond")}, nil
	}
	participant, ok := c.sess.Presence.Get(e.Actor.ID)
	if !ok {
		return Result{Err: presence.ErrParticipantUnknown.WithMessage("join the room before responding")}, nil
	}
	current := c.sess.Polls.Current()
	if current == nil || (e.PollID != "" && current.ID != e.PollID) {
		return Result{Err: polls.ErrNotActive}, nil
	}

	var idx int
	switch {
	case e.OptionIndex != nil:
		idx = *e.OptionIndex
	case strings.TrimSpace(e.SelectedOption) != "":
		resolved, err := c.sess.Polls.ResolveOption(e.SelectedOption)
		switch {
		case errors.Is(err, polls.ErrInvalidOption):
			// Let Submit report lifecycle and duplicate errors first.
			idx = -1
		case err != nil:
			return Result{Err: err}, nil
		default:
			idx = resolved
		}
	default:
		return Result{Err: apperr.Validation("optionIndex or selectedOption is required")}, nil
	}

	p, err := c.sess.Polls.Submit(participant.ID, participant.Name, idx, now)
	if err != nil {
		return Result{Err: err}, nil
	}
	results := polls.Results(p)
	total := polls.TotalResponses(p)
	return Result{Poll: polls.ViewOf(p, now), Results: results}, []Notification{
		broadcast(EventResponseSubmitted, ResultsPayload{PollID: p.ID, Results: results, TotalResponses: total}),
	}
}

func (c *Coordinator) endPoll(e *EndPoll, now time.Time) (Result, []Notification) {
	if e.Actor.Role != models.RoleTeacher {
		return Result{Err: polls.ErrNotTeacher}, nil
	}
	p, err := c.sess.Polls.EndByTeacher(e.PollID, e.Actor.ID, c.sess.Presence.TeacherID(), now)
	if err != nil {
		return Result{Err: err}, nil
	}
	return c.finish(p, now)
}

func (c *Coordinator) tick(e *Tick) (Result, []Notification) {
	p := c.sess.Polls.Current()
	if p == nil || p.ID != e.PollID || p.State != models.PollActive {
		return Result{}, nil
	}
	return Result{}, []Notification{broadcast(EventTimerUpdate, TimerPayload{PollID: p.ID, TimeLeft: e.Remaining})}
}

func (c *Coordinator) expire(e *Expire, now time.Time) (Result, []Notification) {
	p, ok := c.sess.Polls.Expire(e.PollID, now)
	if !ok {
		return Result{}, nil
	}
	return c.finish(p, now)
}

// finish stops the countdown, announces the final results and hands the poll to the archiver.
func (c *Coordinator) finish(p *models.Poll, now time.Time) (Result, []Notification) {
	c.timer.Cancel()
	view := polls.ViewOf(p, now)
	c.logger.Info("poll ended",
		zap.String("poll_id", p.ID),
		zap.String("reason", string(p.EndReason)),
		zap.Int("responses", polls.TotalResponses(p)))

	archived := polls.ViewOf(p, now)
	c.background(func(ctx context.Context) error {
		return c.archiver.ArchivePoll(ctx, archived)
	}, zap.String("poll_id", p.ID))

	return Result{Poll: view, Results: view.FinalResults}, []Notification{
		broadcast(EventTimerUpdate, TimerPayload{PollID: p.ID, TimeLeft: 0}),
		broadcast(EventPollEnded, PollEndedPayload{Poll: view, Results: view.FinalResults, Summary: view.Summary}),
	}
}

func (c *Coordinator) sendChat(e *SendChat, now time.Time) (Result, []Notification) {
	sender := e.Sender
	if p, ok := c.sess.Presence.Get(sender.ID); ok {
		sender.Name = p.Name
	} else if t := c.sess.Presence.Teacher(); t != nil && t.ID == sender.ID {
		sender.Name = t.Name
	}
	msg, err := c.sess.Chat.Post(sender, e.Text, c.sess.Presence.IsBarred(sender.ID), now)
	if err != nil {
		return Result{Err: err}, nil
	}
	return Result{Message: &msg}, []Notification{broadcast(EventNewMessage, msg)}
}

func (c *Coordinator) kick(e *KickParticipant, now time.Time) (Result, []Notification) {
	target, err := c.sess.Presence.Kick(e.Actor, e.ParticipantID)
	if err != nil {
		return Result{Err: err}, nil
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = DefaultKickReason
	}
	c.logger.Info("participant kicked", zap.String("participant_id", target.ID), zap.String("reason", reason))
	c.logPresence(target, models.PresenceKicked, reason, now)

	view := target.View()
	var notes []Notification
	if target.ConnID != "" {
		notes = append(notes,
			sendTo(target.ConnID, EventKickedOut, KickedOutPayload{Reason: reason}),
			Notification{ConnID: target.ConnID, Disconnect: true})
	}
	notes = append(notes, broadcast(EventParticipantRemoved, RosterPayload{Participants: c.sess.Presence.Roster()}))
	return Result{Participant: &view}, notes
}

func (c *Coordinator) logPresence(p *models.Participant, action models.PresenceAction, reason string, now time.Time) {
	rec := models.PresenceRecord{
		RoomID:        c.roomID,
		ParticipantID: p.ID,
		Name:          p.Name,
		Role:          p.Role,
		Action:        action,
		Reason:        reason,
		At:            now,
	}
	c.background(func(ctx context.Context) error {
		return c.archiver.LogPresence(ctx, rec)
	}, zap.String("participant_id", p.ID), zap.String("action", string(action)))
}

// background runs fn off the event loop with a bounded context.
func (c *Coordinator) background(fn func(ctx context.Context) error, fields ...zap.Field) {
	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.logger.Warn("archive dispatch failed", append(fields, zap.Error(err))...)
		}
	}()
}

// timerSink routes countdown events back into the coordinator's stream.
type timerSink struct{ c *Coordinator }

func (s timerSink) OnTick(pollID string, remaining int) {
	// Dropped ticks are fine; the next one carries the current value.
	_ = s.c.Submit(&Tick{PollID: pollID, Remaining: remaining})
}

func (s timerSink) OnExpire(ctx context.Context, pollID string) {
	if err := s.c.enqueue(ctx, &Expire{PollID: pollID}); err != nil && !errors.Is(err, context.Canceled) {
		s.c.logger.Warn("expire not delivered", zap.String("poll_id", pollID), zap.Error(err))
	}
}

func eventName(ev Event) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", ev), "*session.")
}
