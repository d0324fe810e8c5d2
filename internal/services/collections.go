package services

// Store layout. Each component owns its collections and never writes another
// component's documents outside the operations defined on its service.
const (
	colAccounts     = "accounts"      // Directory/Ledger: account docs keyed by internal uuid
	colAccountIndex = "account_index" // Directory: public id -> internal key, creation guard
	colSessions     = "parking_sessions"
	colGateMarkers  = "gate_markers" // Session Manager: per-user active-session guard
	colAuditLog     = "audit_log"    // Audit Log: numbered entries + the counter doc
	colTransactions = "transactions"
	colOccupancy    = "occupancy"

	keyAuditCounter = "counter"
	keySlots        = "slots"
)
