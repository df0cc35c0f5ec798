// Package validate implements the three typed validators from spec §4.7 plus
// the RoomId validator added in SPEC_FULL.md for cluster/base-path
// identifiers, and the stricter backend key grammar from spec §3.
package validate

import (
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

var (
	agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	taskIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_:-]+$`)
	roomIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// reservedSegmentChars are rejected inside any single key segment, beyond
// the NUL/control-byte check, per spec §3.
const reservedSegmentChars = "/\\:*?\"'<>|"

// stats tracks rejection counts for observability, as required by spec
// §4.7 ("incrementing a rejection counter + timestamp").
type stats struct {
	rejections atomic.Int64
	lastReject atomic.Value // time.Time
}

func (s *stats) reject() {
	s.rejections.Add(1)
	s.lastReject.Store(time.Now())
}

// Stats exposes read access to a validator's rejection counters.
type Stats struct {
	Rejections int64
	LastReject time.Time
}

var (
	agentStats stats
	taskStats  stats
	pathStats  stats
	roomStats  stats
	keyStats   stats
)

func snapshot(s *stats) Stats {
	out := Stats{Rejections: s.rejections.Load()}
	if t, ok := s.lastReject.Load().(time.Time); ok {
		out.LastReject = t
	}
	return out
}

// AgentIDStats, TaskIDStats, SafePathStats, RoomIDStats, and KeyStats expose
// the observability counters described in spec §4.7 for each validator.
func AgentIDStats() Stats   { return snapshot(&agentStats) }
func TaskIDStats() Stats    { return snapshot(&taskStats) }
func SafePathStats() Stats  { return snapshot(&pathStats) }
func RoomIDStats() Stats    { return snapshot(&roomStats) }
func KeyStats() Stats       { return snapshot(&keyStats) }

// AgentID validates an agent name: ^[A-Za-z0-9_-]+$, length <= 64.
func AgentID(name string) error {
	if name == "" || len(name) > 64 || !agentIDPattern.MatchString(name) {
		agentStats.reject()
		return masc.New(masc.CodeInvalidAgentName, "agent id must match ^[A-Za-z0-9_-]+$ and be <= 64 chars").
			WithContext("value", name)
	}
	return nil
}

// TaskID validates a task id: ^[A-Za-z0-9_:-]+$, length <= 128.
func TaskID(id string) error {
	if id == "" || len(id) > 128 || !taskIDPattern.MatchString(id) {
		taskStats.reject()
		return masc.New(masc.CodeInvalidTaskID, "task id must match ^[A-Za-z0-9_:-]+$ and be <= 128 chars").
			WithContext("value", id)
	}
	return nil
}

// RoomID validates a cluster name / base-path hash seed:
// ^[A-Za-z0-9_.-]+$, length <= 64.
func RoomID(id string) error {
	if id == "" || len(id) > 64 || !roomIDPattern.MatchString(id) {
		roomStats.reject()
		return masc.New(masc.CodeInvalidKey, "room id must match ^[A-Za-z0-9_.-]+$ and be <= 64 chars").
			WithContext("value", id)
	}
	return nil
}

// SafePath validates a repository-relative path: non-empty, non-absolute,
// no ".." prefix, no interior "../".
func SafePath(path string) error {
	reject := func() error {
		pathStats.reject()
		return masc.New(masc.CodeInvalidFilePath, "path must be non-empty, relative, and contain no .. segments").
			WithContext("value", path)
	}
	if path == "" {
		return reject()
	}
	if strings.HasPrefix(path, "/") {
		return reject()
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return reject()
		}
	}
	return nil
}

// Key validates a backend key against the hierarchical grammar in spec §3:
// printable, non-empty, no NUL, no '/', no leading/trailing ':', no segment
// equal to "." or ".." or beginning with "..", and each segment rejects the
// reserved character set.
func Key(key string) error {
	reject := func() error {
		keyStats.reject()
		return masc.InvalidKey(key)
	}
	if key == "" {
		return reject()
	}
	if strings.Contains(key, "\x00") || strings.Contains(key, "/") {
		return reject()
	}
	if strings.HasPrefix(key, ":") || strings.HasSuffix(key, ":") {
		return reject()
	}
	for _, seg := range strings.Split(key, ":") {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, "..") {
			return reject()
		}
		for _, r := range seg {
			if r < 0x20 {
				return reject()
			}
			if strings.ContainsRune(reservedSegmentChars, r) {
				return reject()
			}
		}
	}
	return nil
}
