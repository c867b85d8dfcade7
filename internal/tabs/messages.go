package tabs

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
)

const (
	MsgLockRequest        = "LOCK_REQUEST"
	MsgLockRelease        = "LOCK_RELEASE"
	MsgHeartbeat          = "HEARTBEAT"
	MsgLeadershipClaim    = "LEADERSHIP_CLAIM"
	MsgLeadershipResponse = "LEADERSHIP_RESPONSE"
	MsgStateUpdate        = "STATE_UPDATE"
	MsgSessionUpdate      = "SESSION_UPDATE"
	MsgNetworkUpdate      = "NETWORK_UPDATE"
	MsgStateSyncRequest   = "STATE_SYNC_REQUEST"
)

// presence rides on claims and heartbeats; ActiveAt is unix milliseconds.
type presence struct {
	ActiveAt int64 `json:"activeAt"`
}

type leadershipResponse struct {
	ClaimingTabID     string `json:"claimingTabId"`
	RetainsLeadership bool   `json:"retainsLeadership"`
	ActiveAt          int64  `json:"activeAt"`
}

func (c *Coordinator) envelope(typ string, payload any) (broadcast.Envelope, error) {
	env := broadcast.Envelope{
		Type:        typ,
		Timestamp:   c.now().UnixMilli(),
		SenderTabID: c.id,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return broadcast.Envelope{}, errors.Wrapf(err, "encode %s", typ)
		}
		env.Payload = b
	}
	return env, nil
}

// stronger reports whether (atA, idA) outranks (atB, idB): more recent
// activity wins and the tab id breaks ties.
func stronger(atA int64, idA string, atB int64, idB string) bool {
	if atA != atB {
		return atA > atB
	}
	return idA > idB
}
