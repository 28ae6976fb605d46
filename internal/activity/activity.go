// Package activity records processing attempts and their outcomes for
// offline analysis. Writes are strictly best-effort: a failed or
// unconfigured activity log never surfaces to the user and never blocks
// or fails a state transition. Implementations log failures internally
// and return as if they succeeded.
package activity

import (
	"context"
	"time"
)

// Entry is one recorded processing attempt.
type Entry struct {
	UserID           string    `json:"userId" dynamodbav:"userId"`
	ChannelID        string    `json:"channelId" dynamodbav:"channelId"`
	SessionID        string    `json:"sessionId" dynamodbav:"sessionId"`
	Status           string    `json:"status" dynamodbav:"status"`
	Caption          string    `json:"caption,omitempty" dynamodbav:"caption,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs" dynamodbav:"processingTimeMs"`
	CreatedAt        time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// Patch updates an existing entry after the user's final decision.
type Patch struct {
	Status   string `json:"status" dynamodbav:"status"`
	Feedback string `json:"feedback,omitempty" dynamodbav:"feedback,omitempty"`
}

// Logger is the fire-and-forget activity sink. Log returns the new
// entry's id, or "" when the write could not be performed; Update is a
// best-effort patch of a previously logged entry. Neither returns an
// error; there is no return path from the activity log into the state
// machine.
type Logger interface {
	Log(ctx context.Context, e Entry) string
	Update(ctx context.Context, id string, p Patch)
}

// Noop is the Logger used when no activity store is configured.
type Noop struct{}

// Compile-time interface check.
var _ Logger = Noop{}

func (Noop) Log(context.Context, Entry) string     { return "" }
func (Noop) Update(context.Context, string, Patch) {}
