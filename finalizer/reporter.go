package finalizer

// Phase is one of the import pipeline's boundaries (spec.md §4.I.7), in the
// order Finalize emits them: clone_comfyui → install_deps → sync_nodes →
// copy_workflows → resolve_models.
type Phase string

const (
	PhaseCloneComfyUI   Phase = "clone_comfyui"
	PhaseInstallDeps    Phase = "install_deps"
	PhaseCopyWorkflows  Phase = "copy_workflows"
	PhaseSyncNodes      Phase = "sync_nodes"
	PhaseResolveModels  Phase = "resolve_models"
)

// Reporter receives progress callbacks during Finalize (§4.I.7 "Emit
// callbacks at each phase boundary ... and for each per-item event"),
// adapted from the teacher's packages/core/progress.Reporter shape to this
// pipeline's own phases and item kinds.
type Reporter interface {
	OnPhaseStart(phase Phase)
	OnPhaseComplete(phase Phase)

	OnNodeInstalled(name string, err error)
	OnWorkflowCopied(name string, err error)
	OnWorkflowResolved(name string, err error)
	OnModelAcquired(filename string, err error)

	OnError(phase Phase, err error)
}

// NoOp discards every callback, the default when a caller doesn't need
// progress reporting.
type NoOp struct{}

func (NoOp) OnPhaseStart(Phase)               {}
func (NoOp) OnPhaseComplete(Phase)             {}
func (NoOp) OnNodeInstalled(string, error)     {}
func (NoOp) OnWorkflowCopied(string, error)    {}
func (NoOp) OnWorkflowResolved(string, error)  {}
func (NoOp) OnModelAcquired(string, error)     {}
func (NoOp) OnError(Phase, error)              {}

var _ Reporter = NoOp{}
