// Package domain holds the standup engine's data model, sentinel errors and
// the ports (store and messaging interfaces) the engine consumes.
package domain
