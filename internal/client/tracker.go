package client

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"go.uber.org/zap"
)

// VoteState is the lifecycle position of an optimistic vote update.
type VoteState string

const (
	StateIdle       VoteState = "idle"
	StatePending    VoteState = "pending"
	StateConfirmed  VoteState = "confirmed"
	StateRolledBack VoteState = "rolled_back"
)

var ErrTogglePending = errors.New("client: vote toggle already pending")

// VoteSnapshot is a consistent view of a VoteTracker.
type VoteSnapshot struct {
	ReportID  string    `json:"report_id"`
	Voted     bool      `json:"voted"`
	VoteCount int64     `json:"vote_count"`
	State     VoteState `json:"state"`
}

// VoteTracker is the locally displayed vote state of one report.
// A toggle moves it to pending with the speculative values; the server response
// then confirms it with the authoritative values or rolls it back.
type VoteTracker struct {
	mu        sync.Mutex
	reportID  string
	voted     bool
	count     int64
	state     VoteState
	prevVoted bool
	prevCount int64
}

func NewVoteTracker(reportID string, voted bool, count int64) *VoteTracker {
	return &VoteTracker{reportID: reportID, voted: voted, count: count, state: StateIdle}
}

// TrackReport starts tracking from a report fetched for the current viewer.
func TrackReport(report Report) *VoteTracker {
	return NewVoteTracker(report.ID, report.VotedByViewer, report.VoteCount)
}

func (t *VoteTracker) Snapshot() VoteSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *VoteTracker) snapshotLocked() VoteSnapshot {
	return VoteSnapshot{ReportID: t.reportID, Voted: t.voted, VoteCount: t.count, State: t.state}
}

// begin applies the speculative flip and reports whether a vote is now wanted.
func (t *VoteTracker) begin() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StatePending {
		return false, ErrTogglePending
	}
	t.prevVoted, t.prevCount = t.voted, t.count
	t.voted = !t.voted
	if t.voted {
		t.count++
	} else if t.count > 0 {
		t.count--
	}
	t.state = StatePending
	return t.voted, nil
}

func (t *VoteTracker) confirm(result VoteResult) VoteSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voted = result.Voted
	t.count = result.VoteCount
	t.state = StateConfirmed
	return t.snapshotLocked()
}

func (t *VoteTracker) rollback() VoteSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voted, t.count = t.prevVoted, t.prevCount
	t.state = StateRolledBack
	return t.snapshotLocked()
}

// Toggle flips the tracked vote optimistically and reconciles it with the server.
// The primary request follows the tracker's belief: cast when it shows no vote, retract
// otherwise. An already_voted answer to a cast is resolved by retracting, and a
// vote_not_found answer to a retract by casting. When that fallback request fails too,
// the failure is logged and the tracker rolls back without returning an error.
// Every other failure rolls the tracker back and is returned.
func (c *Client) Toggle(ctx context.Context, tracker *VoteTracker) (VoteSnapshot, error) {
	wantVote, err := tracker.begin()
	if err != nil {
		return tracker.Snapshot(), err
	}

	primary, fallback := c.RetractVote, c.CastVote
	fallbackKind := reports.ErrVoteNotFound
	if wantVote {
		primary, fallback = c.CastVote, c.RetractVote
		fallbackKind = reports.ErrAlreadyVoted
	}

	result, err := primary(ctx, tracker.reportID)
	if err == nil {
		return tracker.confirm(result), nil
	}
	if !errors.Is(err, fallbackKind) {
		return tracker.rollback(), err
	}

	result, err = fallback(ctx, tracker.reportID)
	if err != nil {
		c.logger.Warn("vote toggle fallback failed",
			zap.String("report_id", tracker.reportID),
			zap.Bool("wanted_vote", wantVote),
			zap.Error(err))
		return tracker.rollback(), nil
	}
	return tracker.confirm(result), nil
}
