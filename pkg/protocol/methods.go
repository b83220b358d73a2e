package protocol

// Per-agent A2A methods, dispatched to the agent's executor.
const (
	MethodMessageSend = "message/send"
	MethodTasksGet    = "tasks/get"
	MethodTasksCancel = "tasks/cancel"
)

// Migration methods, intercepted at server level (never reach an executor).
const (
	MethodMigrationRequest           = "migration/request"
	MethodMigrationApprove           = "migration/approve"
	MethodMigrationReject            = "migration/reject"
	MethodMigrationTransfer          = "migration/transfer"
	MethodMigrationTransferAndVerify = "migration/transfer-and-verify"
	MethodMigrationVerify            = "migration/verify"
	MethodMigrationRehydrate         = "migration/rehydrate"
	MethodMigrationComplete          = "migration/complete"
	MethodMigrationStatus            = "migration/status"
	MethodMigrationAbort             = "migration/abort"
	MethodMigrationRun               = "migration/run"
)

// MigrationMethodPrefix marks methods the A2A server routes to the
// migration handler map instead of a per-agent executor.
const MigrationMethodPrefix = "migration/"

// Admin gateway WebSocket methods.
const (
	MethodGatewayStatus     = "status"
	MethodGatewayMigrations = "migrations.list"
	MethodGatewayAudit      = "audit.tail"
)

// Admin gateway event names pushed from server to operator clients.
const (
	EventAudit     = "audit"
	EventMigration = "migration"
	EventTick      = "tick"
	EventShutdown  = "shutdown"
)
