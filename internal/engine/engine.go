package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/backend"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/config"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/events"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/ledger"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/repo"
)

// ErrInvalidArgument marks caller-fixable input problems; never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// NotVerifiedError is the gate's refusal. It carries the payment's current
// status so the caller can decide whether to retry verification or abandon.
type NotVerifiedError struct {
	Status string
}

func (e NotVerifiedError) Error() string {
	return fmt.Sprintf("payment not verified (status %s)", e.Status)
}

// AlreadyExecutedError means the verified payment was consumed by a prior
// execution request.
type AlreadyExecutedError struct {
	TaskID string
}

func (e AlreadyExecutedError) Error() string {
	return fmt.Sprintf("payment already executed by task %s", e.TaskID)
}

// ErrNotInitialized is returned by operations on an Engine that was not
// constructed with New.
var ErrNotInitialized = errors.New("engine not initialized; construct with New")

// Engine must be constructed with New. The exported fields may be adjusted
// afterwards (tests pin Now and Config); a zero-value Engine returns
// ErrNotInitialized from its operations.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Oracle  ledger.Oracle
	Backend backend.Backend
	Config  *config.Config
	Now     func() time.Time

	locks   *keyedMutex
	running *sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config, oracle ledger.Oracle, be backend.Backend) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Oracle:  oracle,
		Backend: be,
		Config:  cfg,
		Now:     time.Now,
		locks:   newKeyedMutex(),
		running: &sync.WaitGroup{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) lock(key string) (func(), error) {
	if e.locks == nil {
		return nil, ErrNotInitialized
	}
	return e.locks.Lock(key), nil
}

// Wait blocks until every supervised task execution has settled. Callers
// about to tear down the database (one-shot CLI commands, server shutdown,
// tests) wait first so settlement writes never race the close.
func (e Engine) Wait() {
	if e.running != nil {
		e.running.Wait()
	}
}

// RegisterAgentOptions are parameters for registering an agent.
type RegisterAgentOptions struct {
	ID            string
	Name          string
	WalletAddress string
	Description   string
	ActorID       string
}

func (e Engine) RegisterAgent(ctx context.Context, opts RegisterAgentOptions) (domain.Agent, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Agent{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if !ledger.ValidAddress(opts.WalletAddress) {
		return domain.Agent{}, fmt.Errorf("%w: wallet_address is not a valid ledger address", ErrInvalidArgument)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	a := domain.Agent{
		ID:            id,
		Name:          opts.Name,
		WalletAddress: opts.WalletAddress,
		Description:   opts.Description,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "agent.registered", "agent", a.ID, opts.ActorID, events.EventPayload{"name": a.Name}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// CreateServiceOptions are parameters for listing a priced service.
type CreateServiceOptions struct {
	ID            string
	AgentID       string
	Name          string
	Description   string
	PriceLamports int64
	Asset         string
	ActorID       string
}

func (e Engine) CreateService(ctx context.Context, opts CreateServiceOptions) (domain.Service, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Service{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if opts.PriceLamports <= 0 {
		return domain.Service{}, fmt.Errorf("%w: price_lamports must be positive", ErrInvalidArgument)
	}
	if opts.Asset == "" {
		opts.Asset = domain.AssetSOL
	}
	if opts.Asset != domain.AssetSOL {
		return domain.Service{}, fmt.Errorf("%w: asset %s not supported", ErrInvalidArgument, opts.Asset)
	}
	owner, err := e.Repo.GetAgent(ctx, opts.AgentID)
	if err != nil {
		return domain.Service{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	// Wallet snapshot: payments initiated against this service keep paying
	// this address even if the agent later changes its profile.
	s := domain.Service{
		ID:            id,
		AgentID:       owner.ID,
		Name:          opts.Name,
		Description:   opts.Description,
		PayToAddress:  owner.WalletAddress,
		PriceLamports: opts.PriceLamports,
		Asset:         opts.Asset,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertService(ctx, tx, s); err != nil {
		return domain.Service{}, fmt.Errorf("insert service: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "service.created", "service", s.ID, opts.ActorID, events.EventPayload{
		"name":           s.Name,
		"price_lamports": s.PriceLamports,
	}); err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return s, nil
}

// InitiatePayment opens a pending payment for a service and returns the
// instructions the payer must follow on chain. Payer address, payee address
// and price are snapshotted onto the record at this point.
func (e Engine) InitiatePayment(ctx context.Context, serviceID, payerID, actorID string) (domain.Payment, domain.Instructions, error) {
	if serviceID == "" {
		return domain.Payment{}, domain.Instructions{}, fmt.Errorf("%w: service_id is required", ErrInvalidArgument)
	}
	if payerID == "" {
		return domain.Payment{}, domain.Instructions{}, fmt.Errorf("%w: payer_id is required", ErrInvalidArgument)
	}
	svc, err := e.Repo.GetService(ctx, serviceID)
	if err != nil {
		return domain.Payment{}, domain.Instructions{}, err
	}
	payer, err := e.Repo.GetAgent(ctx, payerID)
	if err != nil {
		return domain.Payment{}, domain.Instructions{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Payment{
		ID:             uuid.New().String(),
		ServiceID:      svc.ID,
		PayerID:        payer.ID,
		PayerAddress:   payer.WalletAddress,
		PayeeID:        svc.AgentID,
		PayToAddress:   svc.PayToAddress,
		AmountLamports: svc.PriceLamports,
		Asset:          svc.Asset,
		Status:         domain.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, domain.Instructions{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
		return domain.Payment{}, domain.Instructions{}, fmt.Errorf("insert payment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "payment.initiated", "payment", p.ID, actorID, events.EventPayload{
		"service_id":      svc.ID,
		"amount_lamports": p.AmountLamports,
		"pay_to":          p.PayToAddress,
	}); err != nil {
		return domain.Payment{}, domain.Instructions{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, domain.Instructions{}, err
	}
	network := ""
	if e.Config != nil {
		network = e.Config.Network.Name
	}
	instr := domain.Instructions{
		PaymentID:      p.ID,
		PayTo:          p.PayToAddress,
		AmountLamports: p.AmountLamports,
		AmountSOL:      FormatSOL(p.AmountLamports),
		Asset:          p.Asset,
		Network:        network,
		Reference:      p.ID,
	}
	return p, instr, nil
}

// FormatSOL renders lamports as a decimal SOL amount.
func FormatSOL(lamports int64) string {
	whole := lamports / 1_000_000_000
	frac := lamports % 1_000_000_000
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%09d", whole, frac)
	return strings.TrimRight(s, "0")
}
