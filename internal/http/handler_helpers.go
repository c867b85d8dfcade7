package http

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// decode unmarshals a request's data. Absent data decodes to the zero value.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(err, HTTPErrorInvalidJSONText)
	}
	return v, nil
}

func requireField(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.Newf("%s is required", name)
	}
	return nil
}

// messageBytes accepts either 0x-hex or plain text.
func messageBytes(msg string) []byte {
	if strings.HasPrefix(msg, "0x") {
		if b, err := hexutil.Decode(msg); err == nil {
			return b
		}
	}
	return []byte(msg)
}

// accountOrFirst returns address, or the first signer account when empty.
func (s *Server) accountOrFirst(ctx context.Context, address string) (string, error) {
	if strings.TrimSpace(address) != "" {
		return address, nil
	}
	accts, err := s.wallet.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accts) == 0 {
		return "", errors.New(ErrorNoAccountText)
	}
	return accts[0], nil
}

// requestOrigin extracts the origin a request was made for, if it names one.
func requestOrigin(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var req originReq
	if err := json.Unmarshal(data, &req); err != nil {
		return ""
	}
	return core.NormalizeOrigin(req.Origin)
}
