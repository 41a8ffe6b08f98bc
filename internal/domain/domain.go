package domain

// Payment lifecycle statuses. verified and failed are terminal; wrong_recipient
// is terminal for the claimed transaction only.
const (
	PaymentPending        = "pending"
	PaymentNotFound       = "not_found"
	PaymentFailed         = "failed"
	PaymentWrongRecipient = "wrong_recipient"
	PaymentUnderpaid      = "underpaid"
	PaymentError          = "error"
	PaymentVerified       = "verified"
)

// Task lifecycle statuses.
const (
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskAbandoned  = "abandoned"
)

// AssetSOL is the only asset services can price in.
const AssetSOL = "SOL"

type Agent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WalletAddress  string `json:"wallet_address"`
	Description    string `json:"description,omitempty"`
	EarnedLamports int64  `json:"earned_lamports"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Service carries a snapshot of the owning agent's wallet taken at creation
// time, so later profile edits do not change where existing payments go.
type Service struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PayToAddress   string `json:"pay_to_address"`
	PriceLamports  int64  `json:"price_lamports"`
	Asset          string `json:"asset" enum:"SOL"`
	CompletedTasks int64  `json:"completed_tasks"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Payment struct {
	ID             string  `json:"id"`
	ServiceID      string  `json:"service_id"`
	PayerID        string  `json:"payer_id"`
	PayerAddress   string  `json:"payer_address"`
	PayeeID        string  `json:"payee_id"`
	PayToAddress   string  `json:"pay_to_address"`
	AmountLamports int64   `json:"amount_lamports"`
	Asset          string  `json:"asset"`
	Status         string  `json:"status" enum:"pending,not_found,failed,wrong_recipient,underpaid,error,verified"`
	TxSignature    *string `json:"tx_signature,omitempty"`
	VerifiedSlot   *int64  `json:"verified_slot,omitempty"`
	VerifiedAt     *string `json:"verified_at,omitempty" format:"date-time"`
	ExecutedTaskID *string `json:"executed_task_id,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// Instructions tell the payer how to settle a pending payment on chain.
type Instructions struct {
	PaymentID      string `json:"payment_id"`
	PayTo          string `json:"pay_to"`
	AmountLamports int64  `json:"amount_lamports"`
	AmountSOL      string `json:"amount_sol"`
	Asset          string `json:"asset"`
	Network        string `json:"network"`
	Reference      string `json:"reference"`
}

type Task struct {
	ID            string  `json:"id"`
	PaymentID     string  `json:"payment_id"`
	ServiceID     string  `json:"service_id"`
	Status        string  `json:"status" enum:"processing,completed,abandoned"`
	InputJSON     string  `json:"input_json"`
	OutputJSON    *string `json:"output_json,omitempty"`
	AbandonReason *string `json:"abandon_reason,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Stats is recomputed from the stores on every call; nothing is cached.
type Stats struct {
	VerifiedPayments int64            `json:"verified_payments"`
	VerifiedLamports map[string]int64 `json:"verified_lamports"`
	CompletedTasks   int64            `json:"completed_tasks"`
	AbandonedTasks   int64            `json:"abandoned_tasks"`
}

type AgentStats struct {
	AgentID          string `json:"agent_id"`
	VerifiedPayments int64  `json:"verified_payments"`
	EarnedLamports   int64  `json:"earned_lamports"`
	CompletedTasks   int64  `json:"completed_tasks"`
}
