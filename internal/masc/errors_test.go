package masc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := New(CodeNotFound, "missing")
	assert.Equal(t, "[NOT_FOUND] missing", plain.Error())

	wrapped := Wrap(CodeIoError, "read failed", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestWithContextChains(t *testing.T) {
	e := New(CodeInvalidKey, "bad key").WithContext("key", "x").WithContext("reason", "empty")
	assert.Equal(t, "x", e.Context["key"])
	assert.Equal(t, "empty", e.Context["reason"])
}

func TestAsMatchesCodeThroughWrap(t *testing.T) {
	inner := NotFound("task", "t1")
	outer := Wrap(CodeIoError, "outer failure", inner)
	assert.True(t, As(outer, CodeNotFound))
	assert.True(t, As(outer, CodeIoError))
	assert.False(t, As(outer, CodeTimeout))
}

func TestRecoveryHintsNonEmptyForKnownCodes(t *testing.T) {
	e := New(CodeTaskClaimed, "already claimed")
	assert.NotEmpty(t, e.RecoveryHints())
}

func TestConstructorsSetExpectedCodes(t *testing.T) {
	assert.Equal(t, CodeNotFound, NotFound("agent", "a1").Code)
	assert.Equal(t, CodeAlreadyExists, AlreadyExists("task", "t1").Code)
	assert.Equal(t, CodeTaskClaimed, TaskClaimed("agent-a").Code)
	assert.Equal(t, CodeNotOwner, NotOwner("agent-a", "agent-b").Code)
	assert.Equal(t, CodeFileLocked, FileLocked("f.go", "agent-a").Code)
	assert.Equal(t, CodeInvalidTransition, InvalidTransition("todo", "done").Code)
}
