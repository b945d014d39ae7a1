package params

const (
	// ParamsKeyFeeBps stores the platform fee in basis points.
	ParamsKeyFeeBps = "escrow.feeBps"
	// ParamsKeyDisputeWindow stores the post-completion dispute window in
	// seconds.
	ParamsKeyDisputeWindow = "escrow.disputeWindow"
	// ParamsKeyPauses stores the owner-controlled module pause switches.
	ParamsKeyPauses = "system.pauses"
)
