package messaging

import "time"

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds one adapter call.
	SendTimeout time.Duration
	ParseMode   string
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Target   string    `json:"target"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// FailureEvent is published with eventbus.TypeMessageFailed.
type FailureEvent struct {
	Kind     string    `json:"kind"`
	Target   string    `json:"target"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}
