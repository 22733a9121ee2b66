package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Host ABI indices, per spec.md §4.6. Indices are stable and part of the
// external surface of the core; this table is the single source of truth
// the wasmer import registration below is built from.
const (
	AbiAccountGetMana     = 10
	AbiAccountSpendMana   = 11
	AbiAccountCreditMana  = 12
	AbiSubmitMeshJob      = 16
	AbiGovCreateProposal  = 17
	AbiGovOpenVoting      = 18
	AbiGovCastVote        = 19
	AbiGovCloseVoting     = 20
	AbiGovExecute         = 21
	AbiGetPendingMeshJobs = 22
	AbiAnchorReceipt      = 23
	AbiGetReputation      = 24
	AbiVerifyZkProof      = 25
	AbiGenerateZkProof    = 26
)

// Denial counters, per spec.md §4.6. Incremented at the two points this
// sandbox can actually observe a resource-limit violation: module
// validation (a declared memory/table maximum is absent or exceeds the
// configured limit) and the post-run size check in Execute (the guest's
// linear memory or table is found sitting at the capped maximum, meaning
// at least one further grow the guest attempted was refused by the
// engine). wasmer-go v1.0.4 does not expose a wasmtime-style
// ResourceLimiter callback fired on every grow attempt, so these two
// checkpoints are the closest equivalent this binding allows.
var (
	WasmMemoryGrowthDenied uint64
	WasmTableGrowthDenied  uint64
)

// ExecutorLimits bounds module validation and runtime resource use, per
// spec.md §4.6.
type ExecutorLimits struct {
	MaxMemoryPages uint32
	MaxFunctions   uint32
	MaxTablePages  uint32
	FuelPerMana    uint64 // fuel budget derived from cost_mana
}

// DefaultExecutorLimits is a conservative default sandbox.
var DefaultExecutorLimits = ExecutorLimits{
	MaxMemoryPages: 16, // 16 * 64KiB = 1MiB
	MaxFunctions:   512,
	MaxTablePages:  64,
	FuelPerMana:    1000,
}

// ExecutorHostAllowlist is the closed set of host import names the
// validator accepts, one per ABI index above, plus host_consume_gas for
// cooperative fuel accounting and the "memory" import a
// module may use to receive sandbox-owned, capped linear memory instead of
// declaring its own (see Validate).
var ExecutorHostAllowlist = map[string]bool{
	"host_account_get_mana":     true,
	"host_account_spend_mana":   true,
	"host_account_credit_mana":  true,
	"host_submit_mesh_job":      true,
	"host_gov_create_proposal":  true,
	"host_gov_open_voting":      true,
	"host_gov_cast_vote":        true,
	"host_gov_close_voting":     true,
	"host_gov_execute":          true,
	"host_get_pending_mesh_jobs": true,
	"host_anchor_receipt":       true,
	"host_get_reputation":       true,
	"host_verify_zk_proof":      true,
	"host_generate_zk_proof":    true,
	"host_consume_gas":          true, // fuel accounting, grounded on core/virtual_machine.go
	"memory":                    true,
}

// JobIntent is a pending mesh job submission request a guest enqueued via
// host_submit_mesh_job. The executor cannot sign and broadcast it directly
// — the wasm sandbox never holds the caller's private key — so it is
// handed back on ExecutionOutcome for whoever invoked Execute (and already
// holds the caller's KeyPair) to forward into JobManager.SubmitJob.
type JobIntent struct {
	ManifestCid Cid
	Spec        JobSpec
	CostMana    uint64
}

// submitJobRequest is the wire shape a guest writes into its own memory
// before calling host_submit_mesh_job.
type submitJobRequest struct {
	ManifestCid Cid
	Spec        JobSpec
	CostMana    uint64
}

// govProposalRequest is the wire shape for host_gov_create_proposal.
type govProposalRequest struct {
	Type        ProposalType
	Description string
	CostMana    uint64
}

// govVoteRequest is the wire shape for host_gov_cast_vote.
type govVoteRequest struct {
	ProposalId ProposalId
	Option     VoteOption
}

// ExecutionOutcome is what WasmExecutor.Execute hands back to its caller.
// It is not signed; JobManager has no step that builds an ExecutionReceipt
// from it.
type ExecutionOutcome struct {
	Success    bool
	ReturnI64  int64
	ResultCid  Cid
	CpuMs      uint64
	Reason     string
	JobIntents []JobIntent
}

// hostContext is the per-execution state the host functions close over:
// the caller's identity, fuel budget, and the subsystems the Host ABI
// exposes (mana, reputation, DAG, job manager, governance, zk).
type hostContext struct {
	ctx        context.Context
	caller     Did
	mana       *ManaLedger
	policy     *PolicyEnforcer
	reputation *ReputationStore
	dag        DagStore
	governance *GovernanceModule
	jobs       *JobManager
	zk         ZkVerifier
	limits     ExecutorLimits
	fuelBudget uint64
	fuelSpent  uint64
	memory     *wasmer.Memory
	table      *wasmer.Table
	intents    chan JobIntent
}

func (h *hostContext) consumeFuel(amount uint64) error {
	h.fuelSpent += amount
	if h.fuelSpent > h.fuelBudget {
		return NewError(KindPolicyDenied, "fuel budget exhausted")
	}
	return nil
}

// writeStringLimited writes data into guest memory at ptr, truncating to
// maxLen, and returns the written length, per spec.md §4.6's
// write_string_limited helper.
func writeStringLimited(mem *wasmer.Memory, ptr int32, data []byte, maxLen int32) int32 {
	buf := mem.Data()
	if int(ptr) < 0 || int(ptr) >= len(buf) {
		return 0
	}
	n := int32(len(data))
	if n > maxLen {
		n = maxLen
	}
	available := int32(len(buf)) - ptr
	if n > available {
		n = available
	}
	if n < 0 {
		return 0
	}
	copy(buf[ptr:ptr+n], data[:n])
	return n
}

func readGuestString(mem *wasmer.Memory, ptr, length int32) []byte {
	if length == 0 {
		return nil
	}
	buf := mem.Data()
	if int(ptr) < 0 || int(ptr+length) > len(buf) {
		return nil
	}
	out := make([]byte, length)
	copy(out, buf[ptr:ptr+length])
	return out
}

// WasmExecutor is the sandboxed job execution engine of spec.md §4.6,
// grounded on core/virtual_machine.go's HeavyVM.Execute (wasmer-go based
// instantiation) and registerHost (host function registration under the
// "env" namespace).
type WasmExecutor struct {
	limits     ExecutorLimits
	mana       *ManaLedger
	policy     *PolicyEnforcer
	reputation *ReputationStore
	dag        DagStore
	governance *GovernanceModule
	jobs       *JobManager
	zk         ZkVerifier
	log        *logrus.Entry
}

// NewWasmExecutor wires a WasmExecutor over the subsystems its Host ABI
// calls back into.
func NewWasmExecutor(limits ExecutorLimits, mana *ManaLedger, policy *PolicyEnforcer, reputation *ReputationStore, dag DagStore, governance *GovernanceModule, jobs *JobManager, zk ZkVerifier) *WasmExecutor {
	return &WasmExecutor{
		limits: limits, mana: mana, policy: policy, reputation: reputation,
		dag: dag, governance: governance, jobs: jobs, zk: zk,
		log: logrus.WithField("component", "wasm_executor"),
	}
}

// moduleMemoryPlan describes how a validated module's linear memory will be
// supplied: either the module defines its own (in which case its declared
// maximum must already sit within the sandbox limit) or it imports
// "env"."memory", in which case the executor constructs the memory object
// itself with the sandbox limit as the hard cap, so the engine's own
// grow-beyond-maximum rejection enforces the policy.
type moduleMemoryPlan struct {
	imported bool
	minPages uint32
}

// Validate rejects modules that declare more memory pages, table entries,
// or functions than allowed, or import a host function outside the
// allowlist, per spec.md §4.6's pre-instantiation validation. Standard
// wasm-validation is performed implicitly by wasmer.NewModule, which fails
// on malformed bytecode.
func (e *WasmExecutor) Validate(store *wasmer.Store, wasmBytes []byte) (*wasmer.Module, *moduleMemoryPlan, error) {
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, nil, WrapError(KindInvalidInput, "wasm module failed validation", err)
	}

	var functionCount uint32
	var plan moduleMemoryPlan
	for _, imp := range module.Imports() {
		switch imp.Type().Kind() {
		case wasmer.FUNCTION:
			functionCount++
			if imp.Module() == "env" && !ExecutorHostAllowlist[imp.Name()] {
				return nil, nil, NewError(KindInvalidInput, "import outside host abi allowlist: "+imp.Name())
			}
		case wasmer.MEMORY:
			if imp.Module() != "env" || imp.Name() != "memory" {
				return nil, nil, NewError(KindInvalidInput, "memory import must be env.memory")
			}
			mt := imp.Type().IntoMemoryType()
			plan.imported = true
			plan.minPages = mt.Limits().Minimum
		}
	}
	for _, exp := range module.Exports() {
		switch exp.Type().Kind() {
		case wasmer.FUNCTION:
			functionCount++
		case wasmer.MEMORY:
			if plan.imported {
				return nil, nil, NewError(KindInvalidInput, "module must not both import and export memory")
			}
			mt := exp.Type().IntoMemoryType()
			limits := mt.Limits()
			if limits.Minimum > e.limits.MaxMemoryPages {
				return nil, nil, NewError(KindInvalidInput, "declared memory exceeds max_memory_pages")
			}
			if limits.Maximum == 0 || limits.Maximum > e.limits.MaxMemoryPages {
				WasmMemoryGrowthDenied++
				return nil, nil, NewError(KindInvalidInput, "module memory has no declared maximum within max_memory_pages; growth cannot be sandboxed")
			}
		case wasmer.TABLE:
			tt := exp.Type().IntoTableType()
			limits := tt.Limits()
			if limits.Minimum > e.limits.MaxTablePages {
				return nil, nil, NewError(KindInvalidInput, "declared table exceeds max_table_pages")
			}
			if limits.Maximum == 0 || limits.Maximum > e.limits.MaxTablePages {
				WasmTableGrowthDenied++
				return nil, nil, NewError(KindInvalidInput, "module table has no declared maximum within max_table_pages; growth cannot be sandboxed")
			}
		}
	}
	if functionCount > e.limits.MaxFunctions {
		return nil, nil, NewError(KindInvalidInput, "module declares too many functions")
	}
	return module, &plan, nil
}

// Execute instantiates wasmBytes, calls its "run" export with a wall-clock
// timeout equal to deadline, and produces an ExecutionOutcome. Failure
// modes (trap, out-of-fuel, memory-growth denial, host-ABI denial) all
// produce success=false, per spec.md §4.6.
//
// Fuel accounting (fuelBudget = cost_mana * FuelPerMana) is charged
// cooperatively: every call to host_consume_gas or host_account_spend_mana
// debits it, and consumeFuel denies once the budget is exhausted. wasmer-go
// v1.0.4 exposes no instruction-level metering hook, so a guest that never
// calls back into the host ABI is bounded only by the wall-clock deadline
// below, not by fuel. A future wasmer-go upgrade exposing its Metering
// middleware would close this gap; until then the wall-clock timeout is
// the hard backstop against a non-cooperating guest.
func (e *WasmExecutor) Execute(ctx context.Context, caller Did, wasmBytes []byte, costMana uint64, deadline time.Time) ExecutionOutcome {
	start := time.Now()
	store := wasmer.NewStore(wasmer.NewEngine())
	module, plan, err := e.Validate(store, wasmBytes)
	if err != nil {
		e.reputation.RecordExecution(caller, false, 0, "")
		return ExecutionOutcome{Success: false, Reason: err.Error()}
	}

	hctx := &hostContext{
		ctx: ctx, caller: caller, mana: e.mana, policy: e.policy,
		reputation: e.reputation, dag: e.dag, governance: e.governance,
		jobs: e.jobs, zk: e.zk, limits: e.limits,
		fuelBudget: costMana * e.limits.FuelPerMana,
		intents:    make(chan JobIntent, 16),
	}

	var importedMemory *wasmer.Memory
	if plan.imported {
		limits, lerr := wasmer.NewLimits(plan.minPages, e.limits.MaxMemoryPages)
		if lerr != nil {
			e.reputation.RecordExecution(caller, false, 0, "")
			return ExecutionOutcome{Success: false, Reason: "invalid memory limits: " + lerr.Error()}
		}
		importedMemory = wasmer.NewMemory(store, wasmer.NewMemoryType(limits))
		hctx.memory = importedMemory
	}

	importObject := e.buildImports(store, hctx, importedMemory)
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		e.reputation.RecordExecution(caller, false, 0, "")
		return ExecutionOutcome{Success: false, Reason: "instantiation failed: " + err.Error()}
	}
	defer instance.Close()

	if hctx.memory == nil {
		if mem, err := instance.Exports.GetMemory("memory"); err == nil {
			hctx.memory = mem
		}
	}
	if table, err := instance.Exports.GetTable("table"); err == nil {
		hctx.table = table
	}

	run, err := instance.Exports.GetFunction("run")
	if err != nil {
		e.reputation.RecordExecution(caller, false, 0, "")
		return ExecutionOutcome{Success: false, Reason: "module does not export run"}
	}

	resultCh := make(chan ExecutionOutcome, 1)
	go func() {
		raw, err := run()
		cpuMs := uint64(time.Since(start).Milliseconds())
		if err != nil {
			resultCh <- ExecutionOutcome{Success: false, CpuMs: cpuMs, Reason: "trap: " + err.Error()}
			return
		}
		ret, _ := raw.(int64)
		cid, cerr := rawCid(le64(ret))
		if cerr != nil {
			resultCh <- ExecutionOutcome{Success: false, CpuMs: cpuMs, Reason: cerr.Error()}
			return
		}
		resultCh <- ExecutionOutcome{Success: true, ReturnI64: ret, ResultCid: cid, CpuMs: cpuMs}
	}()

	var outcome ExecutionOutcome
	select {
	case outcome = <-resultCh:
		if !outcome.Success {
			e.reputation.RecordExecution(caller, false, outcome.CpuMs, "")
		}
	case <-time.After(time.Until(deadline)):
		e.reputation.RecordExecution(caller, false, uint64(time.Since(start).Milliseconds()), "")
		outcome = ExecutionOutcome{Success: false, Reason: "wall-clock timeout", CpuMs: uint64(time.Since(start).Milliseconds())}
	}

	e.recordGrowthDenials(hctx)
	outcome.JobIntents = drainIntents(hctx.intents)
	return outcome
}

// recordGrowthDenials checks whether the guest's linear memory or table
// ended the run sitting at the sandbox-capped maximum. Reaching the cap is
// the only after-the-fact signal this binding exposes that at least one
// further grow the guest attempted was refused by the engine.
func (e *WasmExecutor) recordGrowthDenials(hctx *hostContext) {
	if hctx.memory != nil && hctx.memory.Size() >= wasmer.Pages(e.limits.MaxMemoryPages) {
		WasmMemoryGrowthDenied++
	}
	if hctx.table != nil && hctx.table.Size() >= e.limits.MaxTablePages {
		WasmTableGrowthDenied++
	}
}

func drainIntents(ch chan JobIntent) []JobIntent {
	var out []JobIntent
	for {
		select {
		case intent := <-ch:
			out = append(out, intent)
		default:
			return out
		}
	}
}

// buildImports registers the Host ABI functions under the "env" namespace,
// following core/virtual_machine.go's registerHost pattern. If mem is
// non-nil the module imports its linear memory from the host (see
// Validate/moduleMemoryPlan); otherwise the module's own exported memory is
// used once available.
func (e *WasmExecutor) buildImports(store *wasmer.Store, hctx *hostContext, mem *wasmer.Memory) *wasmer.ImportObject {
	importObject := wasmer.NewImportObject()

	i64 := wasmer.NewValueTypes(wasmer.I64)
	i32 := wasmer.NewValueTypes(wasmer.I32)
	i32i32 := wasmer.NewValueTypes(wasmer.I32, wasmer.I32)
	i32i32i32 := wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32)

	getMana := wasmer.NewFunction(store, wasmer.NewFunctionType(wasmer.NewValueTypes(), i64),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI64(int64(hctx.mana.GetBalance(hctx.caller)))}, nil
		})

	spendMana := wasmer.NewFunction(store, wasmer.NewFunctionType(i64, wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := args[0].I64()
			if err := hctx.consumeFuel(10); err != nil {
				return nil, err
			}
			if err := hctx.policy.Spend(hctx.caller, uint64(amount), ""); err != nil {
				return nil, err
			}
			return nil, nil
		})

	creditMana := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32i32, wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if hctx.memory == nil {
				return nil, NewError(KindInternal, "no exported memory")
			}
			did := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			amount := args[2].I32()
			hctx.mana.Credit(Did(did), uint64(amount))
			return nil, nil
		})

	consumeGas := wasmer.NewFunction(store, wasmer.NewFunctionType(i64, wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := hctx.consumeFuel(uint64(args[0].I64())); err != nil {
				return nil, err
			}
			return nil, nil
		})

	getReputation := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i64),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			did := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			return []wasmer.Value{wasmer.NewI64(hctx.reputation.GetReputation(Did(did)))}, nil
		})

	verifyZk := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			proof := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			ok := hctx.zk != nil && hctx.zk.Verify(proof)
			var ret int32
			if ok {
				ret = 1
			}
			return []wasmer.Value{wasmer.NewI32(ret)}, nil
		})

	generateZk := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			req := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			if hctx.zk == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			proof := hctx.zk.Generate(req)
			n := writeStringLimited(hctx.memory, args[0].I32(), proof, args[1].I32())
			return []wasmer.Value{wasmer.NewI32(n)}, nil
		})

	// submitJob (ABI 16) decodes a submitJobRequest from guest memory and
	// enqueues it on hctx.intents for the caller of Execute to forward into
	// JobManager.SubmitJob once signed — the sandbox holds no private key to
	// sign and broadcast the job itself.
	submitJob := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			var req submitJobRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			select {
			case hctx.intents <- JobIntent{ManifestCid: req.ManifestCid, Spec: req.Spec, CostMana: req.CostMana}:
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			default:
				return []wasmer.Value{wasmer.NewI32(0)}, nil // intent queue full
			}
		})

	getPendingJobs := wasmer.NewFunction(store, wasmer.NewFunctionType(wasmer.NewValueTypes(), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(int32(len(hctx.intents)))}, nil
		})

	anchorReceipt := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			body := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			block, err := NewDagBlock(body, nil, hctx.caller, nil, "", time.Now())
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if err := hctx.dag.Put(hctx.ctx, block); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	// Governance ops (17-21) call straight into GovernanceModule using the
	// caller's own Did: unlike job submission, none of these require a
	// private-key signature to apply, so they are safe to dispatch
	// synchronously from inside the sandbox.
	govCreateProposal := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			var req govProposalRequest
			if err := json.Unmarshal(raw, &req); err != nil || hctx.governance == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if _, err := hctx.governance.SubmitProposal(hctx.caller, req.Type, req.Description, time.Now(), req.CostMana); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	govOpenVoting := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			id, err := parseCid(string(raw))
			if err != nil || hctx.governance == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if err := hctx.governance.OpenVoting(id); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	govCastVote := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			var req govVoteRequest
			if err := json.Unmarshal(raw, &req); err != nil || hctx.governance == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if err := hctx.governance.CastVote(hctx.caller, req.ProposalId, req.Option, time.Now()); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	govCloseVoting := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			id, err := parseCid(string(raw))
			if err != nil || hctx.governance == nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			status, _, err := hctx.governance.CloseVotingPeriod(id, time.Now())
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if status == StatusAccepted {
				return []wasmer.Value{wasmer.NewI32(1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	govExecute := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			raw := readGuestString(hctx.memory, args[0].I32(), args[1].I32())
			id, err := parseCid(string(raw))
			if err != nil || hctx.governance == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			if err := hctx.governance.ExecuteProposal(hctx.ctx, id, time.Now()); err != nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		})

	imports := map[string]wasmer.IntoExtern{
		"host_account_get_mana":     getMana,
		"host_account_spend_mana":   spendMana,
		"host_account_credit_mana":  creditMana,
		"host_consume_gas":          consumeGas,
		"host_submit_mesh_job":      submitJob,
		"host_gov_create_proposal":  govCreateProposal,
		"host_gov_open_voting":      govOpenVoting,
		"host_gov_cast_vote":        govCastVote,
		"host_gov_close_voting":     govCloseVoting,
		"host_gov_execute":          govExecute,
		"host_get_pending_mesh_jobs": getPendingJobs,
		"host_anchor_receipt":       anchorReceipt,
		"host_get_reputation":       getReputation,
		"host_verify_zk_proof":      verifyZk,
		"host_generate_zk_proof":    generateZk,
	}
	if mem != nil {
		imports["memory"] = mem
	}
	importObject.Register("env", imports)
	return importObject
}
