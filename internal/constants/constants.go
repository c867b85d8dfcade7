package constants

const (
	AppName    = "quantumwallet"
	WalletFile = "wallet.json"
	StoreFile  = "store.json"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// AAD for the user wallet vault.
	WalletAAD = "quantumwallet:ethwallet:v1"

	// Broadcast channel shared by every tab of one installation.
	CoordinationChannel = "quantum-wallet-coordination"
)
