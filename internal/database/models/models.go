// Package models holds the persisted record types for the call-orchestration
// core. Unlike a typical PBX admin database, the core keeps almost nothing
// durable: call sessions, registrations, and utterances are explicitly
// ephemeral (see internal/callsession). Device is the one record that is
// loaded at startup and hot-reloaded, so it is the one record that gets a
// table.
package models

import "time"

// Device is the identity/personality record for one telephony endpoint,
// keyed by extension. Registry lookups return it by value, so each active
// call holds its own copy taken at call setup; a later reload does not
// change a call already in progress.
type Device struct {
	ID        int64
	Extension string // 3-6 digits
	Name      string // unique, case-insensitive
	IsDefault bool   // reserved default device, always matches when no other does

	SIPAuthID   string
	SIPPassword string // encrypted at rest when an encryption key is configured

	Voice    string // opaque TTS voice id
	Language string // BCP-47 short code: en, he, ar, ru, fr, es

	Greeting       string
	ThinkingPhrase string
	SystemPrompt   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registrable reports whether this device has enough credentials to
// register with the upstream SIP registrar.
func (d Device) Registrable() bool {
	return d.SIPAuthID != "" && d.SIPPassword != ""
}
