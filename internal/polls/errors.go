package polls

import "github.com/livepoll/backend/pkg/apperr"

var (
	ErrPollActive       = apperr.New(apperr.KindConflict, "poll_active", "there is already an active poll; end it before creating a new one")
	ErrNoPoll           = apperr.New(apperr.KindConflict, "no_poll", "no poll has been created")
	ErrNotDraft         = apperr.New(apperr.KindConflict, "not_draft", "poll has already been started")
	ErrNotActive        = apperr.New(apperr.KindConflict, "not_active", "poll is not accepting responses")
	ErrAlreadyResponded = apperr.New(apperr.KindConflict, "already_responded", "participant has already responded to this poll")
	ErrInvalidOption    = apperr.New(apperr.KindValidation, "invalid_option", "option index out of range")
	ErrPollNotFound     = apperr.New(apperr.KindNotFound, "poll_not_found", "poll not found")
	ErrNotTeacher       = apperr.New(apperr.KindForbidden, "not_teacher", "only the teacher can do this")
)
