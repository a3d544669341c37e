// Package messaging delivers standup prompts, reminders and thread replies
// through a transport adapter.
//
// Sends are synchronous: the caller (a task engine worker) blocks until the
// message is delivered or retries are exhausted. A shared token bucket keeps
// the bot under platform rate limits. Persistent failures surface as
// domain.ErrMessagingUnavailable and are published on the event bus.
//
// Channel and member ids are Telegram chat ids. A channel id may carry a forum
// topic as "<chat>:<thread>".
package messaging
