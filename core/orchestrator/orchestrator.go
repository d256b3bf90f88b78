// Package orchestrator drives a single UserOperation from configuration to
// a settled outcome: build the draft, estimate gas, sign, submit and wait.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/looplab/fsm"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/userop-relay/core/account"
	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/eip1559"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/signer"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

type State string

const (
	StateValidating   State = "validating"
	StateEstimating   State = "estimating"
	StateSigningDraft State = "signing_draft"
	StateEstimated    State = "estimated"
	StateSigningFinal State = "signing_final"
	StateSubmitting   State = "submitting"
	StatePolling      State = "polling"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

const (
	eventPrepare   = "prepare"
	eventSignDraft = "sign_draft"
	eventEstimated = "estimated"
	eventSignFinal = "sign_final"
	eventSubmit    = "submit"
	eventPoll      = "poll"
	eventSucceed   = "succeed"
	eventFail      = "fail"
)

// Relay is the part of *bundler.Client the orchestrator drives.
type Relay interface {
	EstimateUserOperationGas(ctx context.Context, entryPoint common.Address, op *userop.UserOperation) (*bundler.GasEstimate, error)
	SendUserOperation(ctx context.Context, entryPoint common.Address, op *userop.UserOperation) (string, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

// SettlementWaiter is satisfied by *bundler.Tracker.
type SettlementWaiter interface {
	Wait(ctx context.Context, entryPoint common.Address, taskID string) (*bundler.Settlement, error)
}

// NonceSource is satisfied by *entrypoint.NonceReader and
// *bundler.NonceManager.
type NonceSource interface {
	Nonce(ctx context.Context, sender common.Address) (*big.Int, error)
}

// FeeSource is satisfied by *eip1559.Source.
type FeeSource interface {
	Fees(ctx context.Context) (eip1559.Fees, error)
}

// nonceTracker is implemented by nonce sources that want to hear about
// accepted operations.
type nonceTracker interface {
	IncrementNonce(sender common.Address, currentNonce *big.Int)
}

// taskLinker is implemented by relays that expose a task status page.
type taskLinker interface {
	TaskStatusURL(taskID string) string
}

// Options holds everything one run needs. Fees and Code are optional:
// without Fees both fee caps are 1 wei, without Code the init code is always
// sent.
type Options struct {
	EntryPoint                string
	ChainID                   int64
	APIKey                    string
	Safe4337Module            common.Address
	PaymasterAndData          []byte
	CheckSupportedEntryPoints bool

	Relay   Relay
	Tracker SettlementWaiter
	Signers []signer.Signer
	Account account.Factory
	Call    account.CallEncoder
	Nonces  NonceSource
	Fees    FeeSource
	Code    account.CodeReader

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Result is the outcome of a run. It is returned on failure too, with Err
// set and the fields filled as far as the run got.
type Result struct {
	RunID      string
	State      State
	Version    entrypoint.Version
	Operation  *userop.UserOperation
	Estimate   *bundler.GasEstimate
	TaskID     string
	TaskURL    string
	Settlement *bundler.Settlement

	// EstimatedCostGwei is (callGasLimit + verificationGasLimit +
	// preVerificationGas) * maxFeePerGas.
	EstimatedCostGwei decimal.Decimal
	Err               error
}

// Orchestrator runs one UserOperation once.
type Orchestrator struct {
	opts    Options
	logger  logger.Logger
	metrics metrics.Recorder
	machine *fsm.FSM
	ran     atomic.Bool

	entryPoint common.Address
	chainID    *big.Int
	result     *Result
}

var validate = validator.New()

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		opts:    opts,
		metrics: metrics.EnsureRecorder(opts.Metrics),
		result:  &Result{RunID: ulid.Make().String(), State: StateValidating},
	}
	o.logger = logger.EnsureLogger(opts.Logger).With("runID", o.result.RunID)

	allActive := []string{
		string(StateValidating), string(StateEstimating), string(StateSigningDraft),
		string(StateEstimated), string(StateSigningFinal), string(StateSubmitting), string(StatePolling),
	}
	o.machine = fsm.NewFSM(
		string(StateValidating),
		fsm.Events{
			{Name: eventPrepare, Src: []string{string(StateValidating)}, Dst: string(StateEstimating)},
			{Name: eventSignDraft, Src: []string{string(StateEstimating)}, Dst: string(StateSigningDraft)},
			{Name: eventEstimated, Src: []string{string(StateSigningDraft)}, Dst: string(StateEstimated)},
			{Name: eventSignFinal, Src: []string{string(StateEstimated)}, Dst: string(StateSigningFinal)},
			{Name: eventSubmit, Src: []string{string(StateSigningFinal)}, Dst: string(StateSubmitting)},
			{Name: eventPoll, Src: []string{string(StateSubmitting)}, Dst: string(StatePolling)},
			{Name: eventSucceed, Src: []string{string(StatePolling)}, Dst: string(StateSucceeded)},
			{Name: eventFail, Src: allActive, Dst: string(StateFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				o.result.State = State(e.Dst)
				o.logger.Debug("state transition", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return o
}

// State is the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.machine.Current())
}

type step struct {
	run  func(ctx context.Context) error
	next string
}

// Run drives the operation to a terminal state. The returned Result is
// never nil except when the orchestrator was already used; its Err equals
// the returned error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	return o.drive(ctx, []step{
		{o.validateOptions, eventPrepare},
		{o.buildDraft, eventSignDraft},
		{o.estimate, eventEstimated},
		{o.price, eventSignFinal},
		{o.signFinal, eventSubmit},
		{o.submit, eventPoll},
		{o.awaitSettlement, eventSucceed},
	})
}

// Estimate builds, signs and estimates the operation but does not submit
// it. On success the run stops in StateEstimated with the patched, unsigned
// operation in the Result. The orchestrator cannot be used afterwards.
func (o *Orchestrator) Estimate(ctx context.Context) (*Result, error) {
	return o.drive(ctx, []step{
		{o.validateOptions, eventPrepare},
		{o.buildDraft, eventSignDraft},
		{o.estimate, eventEstimated},
	})
}

func (o *Orchestrator) drive(ctx context.Context, steps []step) (*Result, error) {
	if !o.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	started := time.Now()
	defer func() {
		o.metrics.ObserveRunDuration(time.Since(started).Seconds())
	}()

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return o.abort(err)
		}
		if err := s.run(ctx); err != nil {
			return o.abort(err)
		}
		if err := o.machine.Event(s.next); err != nil {
			return o.abort(fmt.Errorf("transition %q from %s: %w", s.next, o.machine.Current(), err))
		}
	}

	if !o.State().Terminal() {
		_ = o.price(ctx)
		return o.result, nil
	}
	o.metrics.IncOutcome(string(StateSucceeded))
	o.logger.Info("user operation succeeded",
		"taskID", o.result.TaskID,
		"transactionHash", o.result.Settlement.TransactionHash,
		"userOpHash", o.result.Settlement.UserOpHash)
	return o.result, nil
}

func (o *Orchestrator) abort(err error) (*Result, error) {
	failedIn := o.machine.Current()
	if ferr := o.machine.Event(eventFail); ferr != nil {
		o.logger.Warn("could not enter failed state", "from", failedIn, "error", ferr)
		o.result.State = StateFailed
	}
	o.result.Err = err
	o.metrics.IncOutcome(string(StateFailed))
	o.logger.Error("user operation failed", "state", failedIn, "error", err)
	return o.result, err
}

// validateOptions checks the configuration, detects the EntryPoint version
// and optionally checks that the relay supports the EntryPoint.
func (o *Orchestrator) validateOptions(ctx context.Context) error {
	var problems []string
	if err := validate.Var(o.opts.EntryPoint, "required,eth_addr"); err != nil {
		problems = append(problems, fmt.Sprintf("entrypoint address %q is invalid", o.opts.EntryPoint))
	}
	if o.opts.ChainID <= 0 {
		problems = append(problems, "chain id must be positive")
	}
	if strings.TrimSpace(o.opts.APIKey) == "" {
		problems = append(problems, "relay api key is required")
	}
	if o.opts.Safe4337Module == (common.Address{}) {
		problems = append(problems, "safe 4337 module address is required")
	}
	if len(o.opts.Signers) == 0 {
		problems = append(problems, "at least one signer is required")
	}
	if lo.ContainsBy(o.opts.Signers, func(s signer.Signer) bool { return s == nil }) {
		problems = append(problems, "signer set contains a nil signer")
	}
	if o.opts.Relay == nil || o.opts.Tracker == nil {
		problems = append(problems, "relay client and settlement tracker are required")
	}
	if o.opts.Account == nil || o.opts.Call == nil || o.opts.Nonces == nil {
		problems = append(problems, "account, call encoder and nonce source are required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}

	o.entryPoint = common.HexToAddress(o.opts.EntryPoint)
	o.chainID = big.NewInt(o.opts.ChainID)
	o.result.Version = entrypoint.DetectVersion(o.opts.EntryPoint, o.logger)
	o.logger.Info("using entrypoint", "entryPoint", o.entryPoint.Hex(), "version", o.result.Version.String())

	if o.opts.CheckSupportedEntryPoints {
		o.checkSupported(ctx)
	}
	return nil
}

func (o *Orchestrator) checkSupported(ctx context.Context) {
	supported, err := o.opts.Relay.SupportedEntryPoints(ctx)
	if err != nil {
		o.logger.Warn("could not list supported entrypoints", "error", err)
		return
	}
	if len(supported) > 0 && !lo.Contains(supported, o.entryPoint) {
		o.logger.Warn("entrypoint is not in the relay's supported list",
			"entryPoint", o.entryPoint.Hex(),
			"supported", lo.Map(supported, func(a common.Address, _ int) string { return a.Hex() }))
	}
}

func (o *Orchestrator) buildDraft(ctx context.Context) error {
	sender, initCode, err := o.opts.Account.Account(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	if o.opts.Code != nil && len(initCode) > 0 {
		deployed, err := account.Deployed(ctx, o.opts.Code, sender)
		if err != nil {
			return err
		}
		if deployed {
			o.logger.Info("account already deployed, dropping init code", "sender", sender.Hex())
			initCode = nil
		}
	}

	nonce, err := o.opts.Nonces.Nonce(ctx, sender)
	if err != nil {
		return fmt.Errorf("read nonce for %s: %w", sender.Hex(), err)
	}

	callData, err := o.opts.Call.EncodeCall(ctx)
	if err != nil {
		return fmt.Errorf("encode call data: %w", err)
	}

	fees := eip1559.DefaultFees()
	if o.opts.Fees != nil {
		if fees, err = o.opts.Fees.Fees(ctx); err != nil {
			return fmt.Errorf("suggest fees: %w", err)
		}
	}

	op := userop.NewDraft(sender, nonce, initCode, callData)
	op.MaxFeePerGas = fees.MaxFeePerGas
	op.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas
	op.PaymasterAndData = common.CopyBytes(o.opts.PaymasterAndData)
	if op.PaymasterAndData == nil {
		op.PaymasterAndData = []byte{}
	}
	o.result.Operation = op

	o.logger.Info("draft user operation built",
		"sender", sender.Hex(),
		"nonce", nonce.String(),
		"initCodeLength", len(op.InitCode),
		"maxFeePerGas", fees.MaxFeePerGas.String(),
		"maxPriorityFeePerGas", fees.MaxPriorityFeePerGas.String())
	return nil
}

// estimate signs the draft and asks the relay for gas values.
func (o *Orchestrator) estimate(ctx context.Context) error {
	op := o.result.Operation
	if err := o.sign(ctx, op); err != nil {
		return fmt.Errorf("sign draft: %w", err)
	}

	est, err := o.opts.Relay.EstimateUserOperationGas(ctx, o.entryPoint, op)
	if err != nil {
		return err
	}
	if est == nil {
		return ErrEstimationFailed
	}
	o.result.Estimate = est
	if est.Fallback {
		o.logger.Warn("continuing with fallback gas values", "estimate", est.Wire())
	}
	return ApplyEstimate(op, est, o.result.Version)
}

func (o *Orchestrator) price(ctx context.Context) error {
	op := o.result.Operation
	o.result.EstimatedCostGwei = decimal.NewFromBigInt(op.MaxCost(), -9)
	o.logger.Info("final gas values",
		"preVerificationGas", op.PreVerificationGas.String(),
		"callGasLimit", op.CallGasLimit.String(),
		"verificationGasLimit", op.VerificationGasLimit.String(),
		"estimatedCostGwei", o.result.EstimatedCostGwei.String())
	return nil
}

func (o *Orchestrator) signFinal(ctx context.Context) error {
	if err := o.sign(ctx, o.result.Operation); err != nil {
		return fmt.Errorf("sign final: %w", err)
	}
	return nil
}

func (o *Orchestrator) sign(ctx context.Context, op *userop.UserOperation) error {
	return signer.Sign(ctx, op, o.opts.Signers, o.chainID, o.entryPoint, o.opts.Safe4337Module)
}

func (o *Orchestrator) submit(ctx context.Context) error {
	op := o.result.Operation
	if !op.IsFinal() {
		return ErrNotFinal
	}

	taskID, err := o.opts.Relay.SendUserOperation(ctx, o.entryPoint, op)
	if err != nil {
		var relayErr *bundler.RelayError
		if errors.As(err, &relayErr) {
			return fmt.Errorf("%w: %w", ErrSubmissionRejected, relayErr)
		}
		return fmt.Errorf("submit user operation: %w", err)
	}
	o.result.TaskID = taskID
	if linker, ok := o.opts.Relay.(taskLinker); ok {
		o.result.TaskURL = linker.TaskStatusURL(taskID)
	}
	if tracker, ok := o.opts.Nonces.(nonceTracker); ok {
		tracker.IncrementNonce(op.Sender, op.Nonce)
	}

	o.logger.Info("user operation accepted by relay", "taskID", taskID, "taskURL", o.result.TaskURL)
	return nil
}

func (o *Orchestrator) awaitSettlement(ctx context.Context) error {
	settlement, err := o.opts.Tracker.Wait(ctx, o.entryPoint, o.result.TaskID)
	if err != nil {
		return err
	}
	o.result.Settlement = settlement
	if settlement.UserOpHashErr != nil {
		o.logger.Warn("settled receipt without a user operation event", "taskID", o.result.TaskID, "error", settlement.UserOpHashErr)
	}

	if settlement.Status != bundler.StatusSuccess {
		msg := settlement.Reason
		if msg == "" {
			msg = settlement.Error
		}
		return fmt.Errorf("%w: %s", ErrSettlementFailed, msg)
	}
	return nil
}
