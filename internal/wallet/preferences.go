package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

type Preferences struct {
	DefaultChainID core.ChainID `json:"defaultChainId"`
	AutoConnect    bool         `json:"autoConnect"`
	Theme          string       `json:"theme"`
	Notifications  bool         `json:"notifications"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// PreferencesPatch is merged field by field; nil fields are kept.
type PreferencesPatch struct {
	DefaultChainID *core.ChainID `json:"defaultChainId,omitempty"`
	AutoConnect    *bool         `json:"autoConnect,omitempty"`
	Theme          *string       `json:"theme,omitempty"`
	Notifications  *bool         `json:"notifications,omitempty"`
}

func defaultPreferences(nets *networks.Coordinator) Preferences {
	id, err := nets.DefaultChainID()
	if err != nil {
		id = "0x1"
	}
	return Preferences{
		DefaultChainID: id,
		AutoConnect:    true,
		Theme:          ThemeLight,
		Notifications:  true,
	}
}

func (w *Wallet) Preferences() Preferences {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.prefs
}

// UpdatePreferences merges patch into the preferences and shares the result
// with the other tabs.
func (w *Wallet) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (Preferences, error) {
	if err := w.requireInitialized(); err != nil {
		return Preferences{}, w.fail("updatePreferences", err)
	}
	if patch.DefaultChainID != nil {
		id, err := core.NormalizeChainID(string(*patch.DefaultChainID))
		if err != nil {
			return Preferences{}, w.fail("updatePreferences", errors.Mark(err, core.ErrInvalidChain))
		}
		if _, ok := w.nets.Config(id); !ok {
			return Preferences{}, w.fail("updatePreferences", errors.Wrapf(core.ErrUnsupportedChain, "chain %s", id))
		}
		patch.DefaultChainID = &id
	}
	if patch.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*patch.Theme))
		if theme != ThemeLight && theme != ThemeDark {
			return Preferences{}, w.fail("updatePreferences", errors.Newf("unknown theme %q", *patch.Theme))
		}
		patch.Theme = &theme
	}

	w.mu.Lock()
	p := w.prefs
	if patch.DefaultChainID != nil {
		p.DefaultChainID = *patch.DefaultChainID
	}
	if patch.AutoConnect != nil {
		p.AutoConnect = *patch.AutoConnect
	}
	if patch.Theme != nil {
		p.Theme = *patch.Theme
	}
	if patch.Notifications != nil {
		p.Notifications = *patch.Notifications
	}
	p.UpdatedAt = w.now()
	w.prefs = p
	w.mu.Unlock()

	w.prefsFeed.Send(p)
	if err := w.tabs.BroadcastStateUpdate(ctx, stateUpdate{Preferences: &p}); err != nil {
		return p, w.fail("updatePreferences", err)
	}
	if err := w.persistIfLeader(ctx); err != nil {
		return p, w.fail("updatePreferences", err)
	}
	return p, nil
}

// adoptPreferences installs p when it is newer than the local record.
func (w *Wallet) adoptPreferences(p Preferences) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !p.UpdatedAt.After(w.prefs.UpdatedAt) {
		return false
	}
	w.prefs = p
	return true
}
