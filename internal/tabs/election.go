package tabs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
)

// effects collects what a state transition must do once c.mu is released.
type effects struct {
	publish []pendingMessage
	events  []LeadershipEvent
	waiters []chan bool
	won     bool
}

type pendingMessage struct {
	typ     string
	payload any
}

func (c *Coordinator) apply(ctx context.Context, fx effects) {
	for _, m := range fx.publish {
		if err := c.publish(ctx, m.typ, m.payload); err != nil {
			log.Warn("coordination message not sent", "tabId", c.id, "type", m.typ, "error", err)
		}
	}
	for _, ev := range fx.events {
		c.leadershipFeed.Send(ev)
	}
	for _, w := range fx.waiters {
		w <- fx.won
	}
}

func (c *Coordinator) beginClaimLocked() {
	c.role = ClaimPending
	if c.claimTimer != nil {
		c.claimTimer.Stop()
	}
	c.claimTimer = time.AfterFunc(c.cfg.ClaimTimeout, c.claimExpired)
}

func (c *Coordinator) claimExpired() {
	c.mu.Lock()
	if c.role != ClaimPending {
		c.mu.Unlock()
		return
	}
	fx := c.becomeLeaderLocked()
	c.mu.Unlock()
	c.apply(context.Background(), fx)
}

func (c *Coordinator) becomeLeaderLocked() effects {
	c.stopClaimTimerLocked()
	c.role = Leader
	c.leaderID = c.id
	c.lastHeartbeat = c.now()
	fx := effects{
		waiters: c.takeWaitersLocked(),
		won:     true,
		publish: []pendingMessage{{typ: MsgHeartbeat, payload: presence{ActiveAt: c.activeAt.UnixMilli()}}},
		events:  []LeadershipEvent{{Kind: LeadershipAcquired, TabID: c.id, LeaderID: c.id}},
	}
	log.Info("tab acquired leadership", "tabId", c.id)
	return fx
}

// abandonClaimLocked drops a pending claim in favour of leader, which may be
// empty when nobody is known to lead.
func (c *Coordinator) abandonClaimLocked(leader string) effects {
	c.stopClaimTimerLocked()
	c.role = Follower
	c.leaderID = leader
	if leader != "" {
		c.lastHeartbeat = c.now()
	}
	return effects{waiters: c.takeWaitersLocked(), won: false}
}

func (c *Coordinator) yieldLocked(to string) effects {
	c.role = Follower
	c.leaderID = to
	c.lastHeartbeat = c.now()
	log.Info("tab yielded leadership", "tabId", c.id, "newLeader", to)
	return effects{events: []LeadershipEvent{{Kind: LeadershipChanged, TabID: c.id, LeaderID: to}}}
}

func (c *Coordinator) stopClaimTimerLocked() {
	if c.claimTimer != nil {
		c.claimTimer.Stop()
		c.claimTimer = nil
	}
}

func (c *Coordinator) takeWaitersLocked() []chan bool {
	w := c.waiters
	c.waiters = nil
	return w
}

// handle applies one envelope from the coordination channel.
func (c *Coordinator) handle(ctx context.Context, env broadcast.Envelope) {
	if env.SenderTabID == c.id || env.SenderTabID == "" {
		return
	}

	switch env.Type {
	case MsgLeadershipClaim, MsgLockRequest:
		var p presence
		if !decode(env, &p) {
			return
		}
		c.onClaim(ctx, env.SenderTabID, p.ActiveAt)
	case MsgLeadershipResponse:
		var r leadershipResponse
		if !decode(env, &r) {
			return
		}
		c.onResponse(ctx, env.SenderTabID, r)
	case MsgHeartbeat:
		var p presence
		if !decode(env, &p) {
			return
		}
		c.onHeartbeat(ctx, env.SenderTabID, p.ActiveAt)
	case MsgLockRelease:
		c.onRelease(ctx, env.SenderTabID)
	case MsgStateUpdate, MsgSessionUpdate, MsgNetworkUpdate, MsgStateSyncRequest:
		c.updateFeed.Send(UpdateEvent{
			Type:        env.Type,
			Payload:     env.Payload,
			SenderTabID: env.SenderTabID,
			Timestamp:   env.Timestamp,
		})
	default:
		log.Warn("unknown coordination message", "type", env.Type, "from", env.SenderTabID)
	}
}

func (c *Coordinator) onClaim(ctx context.Context, from string, activeAt int64) {
	c.mu.Lock()
	mine := c.activeAt.UnixMilli()
	claimantWins := stronger(activeAt, from, mine, c.id)

	var fx effects
	switch c.role {
	case Leader:
		if claimantWins {
			fx = c.yieldLocked(from)
		}
		fx.publish = append(fx.publish, pendingMessage{typ: MsgLeadershipResponse, payload: leadershipResponse{
			ClaimingTabID:     from,
			RetainsLeadership: !claimantWins,
			ActiveAt:          mine,
		}})
	case ClaimPending:
		if claimantWins {
			fx = c.abandonClaimLocked(from)
		} else {
			fx.publish = append(fx.publish, pendingMessage{typ: MsgLeadershipClaim, payload: presence{ActiveAt: mine}})
		}
	}
	c.mu.Unlock()
	c.apply(ctx, fx)
}

func (c *Coordinator) onResponse(ctx context.Context, from string, r leadershipResponse) {
	c.mu.Lock()
	var fx effects
	switch {
	case r.ClaimingTabID == c.id && c.role == ClaimPending:
		if r.RetainsLeadership {
			fx = c.abandonClaimLocked(from)
		} else {
			fx = c.becomeLeaderLocked()
		}
	case r.ClaimingTabID != c.id && !r.RetainsLeadership && c.role != Leader:
		c.leaderID = r.ClaimingTabID
		c.lastHeartbeat = c.now()
	}
	c.mu.Unlock()
	c.apply(ctx, fx)
}

func (c *Coordinator) onHeartbeat(ctx context.Context, from string, activeAt int64) {
	c.mu.Lock()
	senderWins := stronger(activeAt, from, c.activeAt.UnixMilli(), c.id)

	var fx effects
	switch c.role {
	case Leader:
		// two leaders: the weaker one steps down
		if senderWins {
			fx = c.yieldLocked(from)
		}
	case ClaimPending:
		if senderWins {
			fx = c.abandonClaimLocked(from)
		}
	default:
		c.leaderID = from
		c.lastHeartbeat = c.now()
	}
	c.mu.Unlock()
	c.apply(ctx, fx)
}

func (c *Coordinator) onRelease(ctx context.Context, from string) {
	c.mu.Lock()
	var fx effects
	if c.leaderID == from {
		c.leaderID = ""
		if c.role == ClaimPending {
			fx = c.becomeLeaderLocked()
		}
	}
	c.mu.Unlock()
	c.apply(ctx, fx)
}

func decode(env broadcast.Envelope, v any) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Warn("malformed coordination payload", "type", env.Type, "from", env.SenderTabID, "error", err)
		return false
	}
	return true
}
