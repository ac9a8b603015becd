package store

// Recognized is a flat key the orchestrator manages together with its
// location in the structured document.
type Recognized struct {
	FlatKey string
	Section string
	Field   string
}

// Structured sections.
const (
	SectionV3           = "v3"
	SectionMpoolToken   = "mpoolToken"
	SectionMpoolV3Token = "mpoolV3Token"
	SectionFeeSystem    = "feeSystem"
	SectionAgent        = "agent"

	// OrchestratorSection is reserved for completion markers.
	OrchestratorSection = "_orchestrator"
)

// Flat keys managed by the orchestrator.
const (
	KeyV3Contract      = "V3_CONTRACT_ADDRESS"
	KeyRouter          = "ROUTER_ADDRESS"
	KeyMpoolToken      = "MPOOL_TOKEN_ADDRESS"
	KeyMpoolPool       = "MPOOL_POOL_ADDRESS"
	KeyMpoolDeployTx   = "MPOOL_DEPLOY_TX"
	KeyMpoolDeposit    = "MPOOL_DEPOSIT_ADDRESS"
	KeyMpoolStaking    = "MPOOL_STAKING_ADDRESS"
	KeyFeeRouter       = "FEE_ROUTER_ADDRESS"
	KeyMpoolV3Token    = "MPOOLV3_TOKEN_ADDRESS"
	KeyMpoolV3Pool     = "MPOOLV3_POOL_ADDRESS"
	KeyMpoolV3DeployTx = "MPOOLV3_DEPLOY_TX"
	KeyMpoolV3Deposit  = "MPOOLV3_DEPOSIT_ADDRESS"
	KeyAgentID         = "AGENT_ID"
)

var recognized = []Recognized{
	{KeyV3Contract, SectionV3, "contract"},
	{KeyRouter, SectionV3, "router"},
	{KeyMpoolToken, SectionMpoolToken, "token"},
	{KeyMpoolPool, SectionMpoolToken, "pool"},
	{KeyMpoolDeployTx, SectionMpoolToken, "deployTx"},
	{KeyMpoolDeposit, SectionMpoolToken, "depositAddress"},
	{KeyMpoolStaking, SectionFeeSystem, "staking"},
	{KeyFeeRouter, SectionFeeSystem, "feeRouter"},
	{KeyMpoolV3Token, SectionMpoolV3Token, "token"},
	{KeyMpoolV3Pool, SectionMpoolV3Token, "pool"},
	{KeyMpoolV3DeployTx, SectionMpoolV3Token, "deployTx"},
	{KeyMpoolV3Deposit, SectionMpoolV3Token, "depositAddress"},
	{KeyAgentID, SectionAgent, "id"},
}

// RecognizedKeys returns the managed flat keys in a stable order.
func RecognizedKeys() []Recognized {
	return append([]Recognized(nil), recognized...)
}

// Lookup returns the structured location of a recognized flat key.
func Lookup(flatKey string) (Recognized, bool) {
	for _, r := range recognized {
		if r.FlatKey == flatKey {
			return r, true
		}
	}
	return Recognized{}, false
}
