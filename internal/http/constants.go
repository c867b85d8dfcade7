package http

// Inbound message types
const (
	MsgInitialize          = "initialize"
	MsgStoreData           = "storeData"
	MsgRetrieveData        = "retrieveData"
	MsgCheckPermission     = "checkPermission"
	MsgGrantPermission     = "grantPermission"
	MsgRevokePermission    = "revokePermission"
	MsgSignTransaction     = "signTransaction"
	MsgSignMessage         = "signMessage"
	MsgSwitchNetwork       = "switchNetwork"
	MsgGetAccounts         = "getAccounts"
	MsgGetBalance          = "getBalance"
	MsgGetNetwork          = "getNetwork"
	MsgAuthenticateSession = "authenticateSession"
	MsgValidateTransaction = "validateTransaction"
	MsgUpdatePreferences   = "updatePreferences"
	MsgGetPreferences      = "getPreferences"
	MsgAddNetwork          = "addNetwork"
	MsgGetNetworks         = "getNetworks"
	MsgSetVisibility       = "setVisibility"
)

// Generic HTTP / JSON strings
const (
	HTTPErrorInvalidJSONText = "invalid JSON"
	HTTPErrorForbiddenText   = "forbidden"
	HTTPErrorForbiddenHost   = "forbidden host"
	HTTPErrorUnauthorized    = "unauthorized"

	ErrorUnknownMessageText = "unknown message type"
	ErrorInternalText       = "internal error"
	ErrorNoAccountText      = "no account available"
)

// Headers
const (
	extensionTokenHeader = "X-QW-Extension"
)

const weiDecimals = 18
