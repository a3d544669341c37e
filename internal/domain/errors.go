package domain

import "errors"

var (
	// ErrInvalidScheduleSpec marks an unparsable weekday, clock time or timezone.
	ErrInvalidScheduleSpec = errors.New("invalid schedule spec")
	ErrTeamNotFound        = errors.New("team not found")
	// ErrDuplicateResponse is returned when a member already responded to the occurrence.
	ErrDuplicateResponse    = errors.New("duplicate response")
	ErrMessagingUnavailable = errors.New("messaging unavailable")
	ErrMissingInstance      = errors.New("standup instance not found")
	ErrInstanceExists       = errors.New("standup instance already exists")
	ErrUnknownQuestion      = errors.New("unknown question")
	ErrMissingAnswer        = errors.New("required answer missing")
	// ErrInvalidOption is returned when a choice question gets a value outside its options.
	ErrInvalidOption = errors.New("answer is not one of the options")
)
