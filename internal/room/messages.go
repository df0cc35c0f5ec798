package room

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/masc-run/masc/internal/masc"
)

// Broadcast appends a message to the room's log under a fetch-and-
// increment sequence number, so readers can resume from the last seq
// they observed without re-scanning the whole prefix.
func (r *Room) Broadcast(ctx context.Context, from, content, mention string) (*Message, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	if err := validateAgentAndTask(from, ""); err != nil {
		return nil, err
	}

	var msg *Message
	err := r.withNamedLock(ctx, messageSeqKey, func(ctx context.Context) error {
		seq, err := r.nextMessageSeq(ctx)
		if err != nil {
			return err
		}
		msg = &Message{Seq: seq, FromAgent: from, Content: content, Mention: mention, Ts: time.Now().UTC()}
		raw, err := json.Marshal(msg)
		if err != nil {
			return masc.IoError("marshal message", err)
		}
		return r.backend.Set(ctx, "messages:"+strconv.FormatUint(seq, 10), raw)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesSince returns every message with seq > afterSeq, in seq order.
func (r *Room) MessagesSince(ctx context.Context, afterSeq uint64) ([]*Message, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	all, err := r.backend.GetAll(ctx, "messages:")
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(all))
	for k, raw := range all {
		if k == messageSeqKey {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, masc.IoError("decode message", err)
		}
		if m.Seq > afterSeq {
			out = append(out, &m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Seq > out[j].Seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// nextMessageSeq performs a fetch-and-increment on messages:__seq__.
// Callers must already hold the messageSeqKey named lock.
func (r *Room) nextMessageSeq(ctx context.Context) (uint64, error) {
	raw, found, err := r.backend.Get(ctx, messageSeqKey)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if found {
		cur, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, masc.IoError("decode message sequence", err)
		}
		next = cur + 1
	}
	if err := r.backend.Set(ctx, messageSeqKey, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}
