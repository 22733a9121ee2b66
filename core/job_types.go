package core

import "encoding/binary"

// JobId is the CID of a job's canonical manifest, per spec.md §3.
type JobId = Cid

// JobKind enumerates the shapes of work a job spec can describe, per
// spec.md §3 ("kind ∈ {Echo, CclWasm, GenericPlaceholder}").
type JobKind int

const (
	JobKindEcho JobKind = iota
	JobKindCclWasm
	JobKindGenericPlaceholder
)

// ResourceRequirements describes cpu/memory/storage asks or offers, shared
// by JobSpec.RequiredResources and MeshJobBid.Resources.
type ResourceRequirements struct {
	CpuCores  uint32
	MemoryMb  uint32
	StorageMb uint32
}

// fits reports whether have satisfies want in every dimension.
func (have ResourceRequirements) fits(want ResourceRequirements) bool {
	return have.CpuCores >= want.CpuCores && have.MemoryMb >= want.MemoryMb && have.StorageMb >= want.StorageMb
}

// JobSpec describes the work a job requests, per spec.md §3.
type JobSpec struct {
	Kind                JobKind
	Payload             []byte // e.g. the Echo string, or opaque CCL input
	RequiredResources   ResourceRequirements
	RequiredCapabilities []string
	TrustScope          string
	MinExecutorReputation int64
	AllowedFederations  []string
}

// ActualMeshJob is a submitted unit of mesh work, per spec.md §3. Field
// names and shapes are grounded on
// icn-runtime/benches/job_manager.rs.
type ActualMeshJob struct {
	Id                  JobId
	ManifestCid         Cid
	Spec                JobSpec
	CreatorDid          Did
	CostMana            uint64
	MaxExecutionWaitMs  *uint64
	Signature           []byte
}

// SignableBytes returns the canonical bytes a job submission is signed
// over: the manifest CID, creator DID, cost_mana and spec payload. The
// other spec fields, MaxExecutionWaitMs, the signature and the Id are not
// covered.
func (j ActualMeshJob) SignableBytes() []byte {
	var buf []byte
	buf = appendLP(buf, []byte(j.ManifestCid.String()))
	buf = appendLP(buf, []byte(j.CreatorDid))
	buf = appendU64(buf, j.CostMana)
	buf = appendLP(buf, j.Spec.Payload)
	return buf
}

// MeshJobBid is a prospective executor's signed offer, per spec.md §3.
type MeshJobBid struct {
	JobId                JobId
	ExecutorDid          Did
	PriceMana            uint64
	Resources            ResourceRequirements
	ExecutorCapabilities []string
	ExecutorFederations  []string
	ExecutorTrustScope   string
	Signature            []byte
}

// SignableBytes returns the canonical bytes a bid is signed over.
func (b MeshJobBid) SignableBytes() []byte {
	var buf []byte
	buf = appendLP(buf, []byte(b.JobId.String()))
	buf = appendLP(buf, []byte(b.ExecutorDid))
	buf = appendU64(buf, b.PriceMana)
	return buf
}

// ExecutionReceipt is the signed outcome record for a job, per spec.md §3.
// SignableBytes matches icn-runtime/benches/job_manager.rs exactly:
// job_id || executor_did || result_cid || cpu_ms_le || success_byte.
type ExecutionReceipt struct {
	JobId       JobId
	ExecutorDid Did
	ResultCid   Cid
	CpuMs       uint64
	Success     bool
	Signature   []byte
}

// SignableBytes returns the canonical bytes an execution receipt is signed
// over, per spec.md §3: "job_id || executor_did || result_cid || cpu_ms_le
// || success_byte".
func (r ExecutionReceipt) SignableBytes() []byte {
	buf := []byte(r.JobId.String())
	buf = append(buf, []byte(r.ExecutorDid)...)
	buf = append(buf, []byte(r.ResultCid.String())...)
	var cpu [8]byte
	binary.LittleEndian.PutUint64(cpu[:], r.CpuMs)
	buf = append(buf, cpu[:]...)
	if r.Success {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// JobStatus is the discriminant of JobState.
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusAssigned
	JobStatusCompleted
	JobStatusFailed
)

// JobState is one entry of the JobId → JobState mapping, per spec.md §3.
// Transitions are monotonic except Failed is terminal.
type JobState struct {
	Status   JobStatus
	Executor Did                // set once Assigned
	Receipt  *ExecutionReceipt  // set once Completed
	Reason   string             // set once Failed
}

// canTransitionTo enforces the monotonic transition rule of spec.md §3.
func (s JobState) canTransitionTo(next JobStatus) bool {
	if s.Status == JobStatusFailed {
		return false
	}
	if s.Status == JobStatusCompleted {
		return false
	}
	return next >= s.Status || next == JobStatusFailed
}
