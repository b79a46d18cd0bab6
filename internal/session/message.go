package session

import (
	"math"
	"time"
)

// Role tags who wrote a message. The string values are what the transcript
// table stores.
type Role string

const (
	RoleHuman Role = "Human"
	RoleAgent Role = "AI"
)

// Message is one entry of a session transcript. Timestamp is epoch seconds
// and identifies the message within its session.
type Message struct {
	Role      Role
	Content   string
	Timestamp float64
}

// Now returns the current time as float epoch seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Time converts the message timestamp to a time.Time.
func (m Message) Time() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Human returns a human message stamped with ts (0 means "now").
func Human(content string, ts float64) Message {
	return Message{Role: RoleHuman, Content: content, Timestamp: ts}
}

// Agent returns an agent message stamped with ts (0 means "now").
func Agent(content string, ts float64) Message {
	return Message{Role: RoleAgent, Content: content, Timestamp: ts}
}
