package http

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

func (s *Server) handleInitialize(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := s.wallet.Initialize(ctx); err != nil {
		return nil, err
	}
	st, _, err := s.wallet.Network()
	if err != nil {
		return nil, err
	}
	return initializeResp{TabID: s.wallet.TabID(), Leader: s.wallet.IsLeader(), ChainID: st.ChainID}, nil
}

func (s *Server) handleStoreData(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[dataReq](data)
	if err != nil {
		return nil, err
	}
	if err := requireField("key", req.Key); err != nil {
		return nil, err
	}
	if len(req.Value) == 0 {
		req.Value = json.RawMessage("null")
	}
	return true, s.wallet.StoreData(ctx, req.Key, req.Value)
}

func (s *Server) handleRetrieveData(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[dataReq](data)
	if err != nil {
		return nil, err
	}
	if err := requireField("key", req.Key); err != nil {
		return nil, err
	}
	v, ok, err := s.wallet.RetrieveData(ctx, req.Key)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func (s *Server) handleCheckPermission(_ context.Context, data json.RawMessage) (any, error) {
	req, err := decode[permissionReq](data)
	if err != nil {
		return nil, err
	}
	if err := requireField("origin", req.Origin); err != nil {
		return nil, err
	}
	if err := requireField("method", req.Method); err != nil {
		return nil, err
	}
	return s.wallet.HasPermission(req.Origin, req.Method), nil
}

func (s *Server) handleGrantPermission(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[grantReq](data)
	if err != nil {
		return nil, err
	}
	if req.TTLMs < 0 {
		return nil, errors.New("ttlMs must not be negative")
	}
	return s.wallet.GrantPermission(ctx, req.Origin, req.Methods, time.Duration(req.TTLMs)*time.Millisecond)
}

func (s *Server) handleRevokePermission(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[originReq](data)
	if err != nil {
		return nil, err
	}
	if err := requireField("origin", req.Origin); err != nil {
		return nil, err
	}
	return s.wallet.RevokePermission(ctx, req.Origin)
}

func (s *Server) handleSignTransaction(ctx context.Context, data json.RawMessage) (any, error) {
	tx, err := decode[core.Transaction](data)
	if err != nil {
		return nil, err
	}
	return s.wallet.SignTransaction(ctx, tx)
}

func (s *Server) handleSignMessage(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[signMessageReq](data)
	if err != nil {
		return nil, err
	}
	addr, err := s.accountOrFirst(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	return s.wallet.SignMessage(ctx, addr, messageBytes(req.Message))
}

func (s *Server) handleSwitchNetwork(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[switchNetworkReq](data)
	if err != nil {
		return nil, err
	}
	if req.ChainID == "" {
		return nil, errors.New("chainId is required")
	}
	return s.wallet.SwitchNetwork(ctx, req.ChainID)
}

func (s *Server) handleGetAccounts(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.wallet.Accounts(ctx)
}

func (s *Server) handleGetBalance(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[addressReq](data)
	if err != nil {
		return nil, err
	}
	addr, err := s.accountOrFirst(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	wei, err := s.wallet.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}
	st, _, err := s.wallet.Network()
	if err != nil {
		return nil, err
	}
	return balanceResp{
		Address: addr,
		ChainID: st.ChainID.String(),
		Wei:     hexutil.EncodeBig(wei),
		Ether:   decimal.NewFromBigInt(wei, -weiDecimals).String(),
	}, nil
}

func (s *Server) handleGetNetwork(_ context.Context, _ json.RawMessage) (any, error) {
	st, cfg, err := s.wallet.Network()
	if err != nil {
		return nil, err
	}
	return networkResp{ChainID: st.ChainID, State: st, Config: cfg}, nil
}

func (s *Server) handleGetNetworks(_ context.Context, _ json.RawMessage) (any, error) {
	resp := networksResp{Networks: s.wallet.Networks().Networks()}
	if st, _, err := s.wallet.Network(); err == nil {
		resp.Current = st.ChainID
	}
	return resp, nil
}

func (s *Server) handleAddNetwork(ctx context.Context, data json.RawMessage) (any, error) {
	cfg, err := decode[networks.ChainConfig](data)
	if err != nil {
		return nil, err
	}
	return s.wallet.AddNetwork(ctx, cfg)
}

func (s *Server) handleAuthenticateSession(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[sessionReq](data)
	if err != nil {
		return nil, err
	}
	if err := requireField("origin", req.Origin); err != nil {
		return nil, err
	}
	addr, err := s.accountOrFirst(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	a, err := s.wallet.AuthenticateSession(ctx, req.Origin, addr)
	if err != nil {
		return nil, err
	}
	return sessionResp{
		ID:        a.ID,
		Origin:    a.Origin,
		Address:   a.Address,
		Message:   a.Message,
		Signature: a.Signature,
		ExpiresAt: a.ExpiresAt,
	}, nil
}

// handleValidateTransaction reports rule violations as a value, not a
// failure; only a wallet that cannot validate fails the request.
func (s *Server) handleValidateTransaction(_ context.Context, data json.RawMessage) (any, error) {
	tx, err := decode[core.Transaction](data)
	if err != nil {
		return nil, err
	}
	err = s.wallet.ValidateTransaction(tx)
	var vf *core.ValidationFailedError
	switch {
	case err == nil:
		return validationResp{Valid: true}, nil
	case errors.As(err, &vf):
		return validationResp{Valid: false, Errors: vf.Errors}, nil
	default:
		return nil, err
	}
}

func (s *Server) handleUpdatePreferences(ctx context.Context, data json.RawMessage) (any, error) {
	patch, err := decode[wallet.PreferencesPatch](data)
	if err != nil {
		return nil, err
	}
	return s.wallet.UpdatePreferences(ctx, patch)
}

func (s *Server) handleGetPreferences(_ context.Context, _ json.RawMessage) (any, error) {
	return s.wallet.Preferences(), nil
}

func (s *Server) handleSetVisibility(ctx context.Context, data json.RawMessage) (any, error) {
	req, err := decode[visibilityReq](data)
	if err != nil {
		return nil, err
	}
	if req.Visible == nil {
		return nil, errors.New("visible is required")
	}
	leader, err := s.wallet.SetVisible(ctx, *req.Visible)
	if err != nil {
		return nil, err
	}
	return visibilityResp{Visible: *req.Visible, Leader: leader}, nil
}
