package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentIDAcceptsValidNames(t *testing.T) {
	assert.NoError(t, AgentID("worker-1"))
	assert.NoError(t, AgentID("coordinator_main"))
}

func TestAgentIDRejectsEmptyTooLongAndBadChars(t *testing.T) {
	assert.Error(t, AgentID(""))
	assert.Error(t, AgentID("has space"))
	assert.Error(t, AgentID(string(make([]byte, 65))))
}

func TestTaskIDAcceptsColonSegments(t *testing.T) {
	assert.NoError(t, TaskID("epic:42"))
}

func TestRoomIDAcceptsDottedNames(t *testing.T) {
	assert.NoError(t, RoomID("team.alpha-1"))
	assert.Error(t, RoomID(""))
	assert.Error(t, RoomID("has/slash"))
}

func TestSafePathRejectsAbsoluteAndTraversal(t *testing.T) {
	assert.NoError(t, SafePath("src/main.go"))
	assert.Error(t, SafePath("/etc/passwd"))
	assert.Error(t, SafePath("../escape"))
	assert.Error(t, SafePath("a/../b"))
}

func TestKeyRejectsReservedCharsAndSegments(t *testing.T) {
	assert.NoError(t, Key("tasks:backlog"))
	assert.Error(t, Key(""))
	assert.Error(t, Key("a/b"))
	assert.Error(t, Key(":leading"))
	assert.Error(t, Key("trailing:"))
	assert.Error(t, Key("a:..:b"))
	assert.Error(t, Key("a:b*c"))
}

func TestStatsTrackRejections(t *testing.T) {
	before := AgentIDStats().Rejections
	_ = AgentID("")
	after := AgentIDStats().Rejections
	assert.Greater(t, after, before)
}
