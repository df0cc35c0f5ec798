package masc

import "time"

// Envelope is the structured, user-visible failure shape from spec §7.
type Envelope struct {
	Success       bool      `json:"success"`
	Code          Code      `json:"code,omitempty"`
	Message       string    `json:"message,omitempty"`
	RecoveryHints []string  `json:"recovery_hints,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Fail builds the envelope for a failed operation. now is passed in rather
// than taken from time.Now() so callers with a fixed clock stay deterministic
// in tests.
func Fail(err error, now time.Time) Envelope {
	env := Envelope{Success: false, Timestamp: now.UTC()}
	var me *Error
	if e, ok := err.(*Error); ok {
		me = e
	}
	if me != nil {
		env.Code = me.Code
		env.Message = me.Error()
		env.RecoveryHints = me.RecoveryHints()
		return env
	}
	env.Code = CodeIoError
	env.Message = err.Error()
	env.RecoveryHints = recoveryHints[CodeIoError]
	return env
}

// Ok builds the success envelope (no payload — callers attach their own
// result alongside it).
func Ok(now time.Time) Envelope {
	return Envelope{Success: true, Timestamp: now.UTC()}
}
