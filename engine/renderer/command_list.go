package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type CommandListState int

const (
	COMMAND_LIST_STATE_INITIAL CommandListState = iota
	COMMAND_LIST_STATE_RECORDING
	COMMAND_LIST_STATE_EXECUTABLE
	COMMAND_LIST_STATE_PENDING
	COMMAND_LIST_STATE_COMPLETED
)

func (s CommandListState) String() string {
	switch s {
	case COMMAND_LIST_STATE_INITIAL:
		return "initial"
	case COMMAND_LIST_STATE_RECORDING:
		return "recording"
	case COMMAND_LIST_STATE_EXECUTABLE:
		return "executable"
	case COMMAND_LIST_STATE_PENDING:
		return "pending"
	case COMMAND_LIST_STATE_COMPLETED:
		return "completed"
	}
	return "unknown"
}

type SemaphoreUsage int

const (
	// SemaphoreUsageWait blocks execution of the list until the semaphore signals.
	SemaphoreUsageWait SemaphoreUsage = iota
	// SemaphoreUsageSignal is signaled by the device when the list finishes.
	SemaphoreUsageSignal
)

// StagingResource is a transient object released once the GPU is done with it.
type StagingResource interface {
	Destroy()
}

type semaphoreDependency struct {
	semaphore Semaphore
	usage     SemaphoreUsage
	stage     PipelineStage
}

// CommandList is a recordable unit of work bound to the queue that created it.
// It is not safe for concurrent use.
type CommandList struct {
	queue        *CommandQueue
	buffer       CommandBuffer
	state        CommandListState
	fence        Fence
	dependencies []semaphoreDependency
	staging      []StagingResource
}

func newCommandList(queue *CommandQueue, buffer CommandBuffer) *CommandList {
	return &CommandList{
		queue:  queue,
		buffer: buffer,
		state:  COMMAND_LIST_STATE_INITIAL,
	}
}

func (cl *CommandList) State() CommandListState {
	return cl.state
}

// Handle returns the native command buffer to record into.
func (cl *CommandList) Handle() CommandBuffer {
	return cl.buffer
}

// Queue returns the queue class the list was created for.
func (cl *CommandList) Queue() QueueFlags {
	return cl.queue.Flags()
}

func (cl *CommandList) Begin() error {
	if cl.state != COMMAND_LIST_STATE_INITIAL {
		err := fmt.Errorf("cannot begin a command list in `%s` state: %w", cl.state, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	if err := cl.buffer.Begin(); err != nil {
		err = fmt.Errorf("failed to begin command buffer: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}
	cl.state = COMMAND_LIST_STATE_RECORDING
	return nil
}

func (cl *CommandList) End() error {
	if cl.state != COMMAND_LIST_STATE_RECORDING {
		err := fmt.Errorf("cannot end a command list in `%s` state: %w", cl.state, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	if err := cl.buffer.End(); err != nil {
		err = fmt.Errorf("failed to end command buffer: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}
	cl.state = COMMAND_LIST_STATE_EXECUTABLE
	return nil
}

// AddSemaphoreDependency queues a dependency consumed by the next submission.
// Waits apply to all commands; use AddSemaphoreWait for a narrower stage.
func (cl *CommandList) AddSemaphoreDependency(semaphore Semaphore, usage SemaphoreUsage) {
	cl.dependencies = append(cl.dependencies, semaphoreDependency{
		semaphore: semaphore,
		usage:     usage,
		stage:     PipelineStageAllCommands,
	})
}

func (cl *CommandList) AddSemaphoreWait(semaphore Semaphore, stage PipelineStage) {
	cl.dependencies = append(cl.dependencies, semaphoreDependency{
		semaphore: semaphore,
		usage:     SemaphoreUsageWait,
		stage:     stage,
	})
}

// PushStagingResource defers destruction of resource until the list is
// recycled after the device confirmed completion.
func (cl *CommandList) PushStagingResource(resource StagingResource) error {
	if cl.state == COMMAND_LIST_STATE_PENDING {
		err := fmt.Errorf("cannot attach staging resources to a pending command list: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	cl.staging = append(cl.staging, resource)
	return nil
}

// Reset returns the list to the initial state, destroying its staging
// resources. It fails while the list is pending on the device.
func (cl *CommandList) Reset() error {
	if cl.state == COMMAND_LIST_STATE_PENDING {
		err := fmt.Errorf("cannot reset a command list still pending on the device: %w", core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	cl.releaseStaging()
	cl.dependencies = cl.dependencies[:0]
	cl.fence = nil
	if err := cl.buffer.Reset(); err != nil {
		err = fmt.Errorf("failed to reset command buffer: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}
	cl.state = COMMAND_LIST_STATE_INITIAL
	return nil
}

func (cl *CommandList) SetViewport(viewport Viewport) error {
	if err := cl.requireRecording("set viewport"); err != nil {
		return err
	}
	cl.buffer.SetViewport(viewport)
	return nil
}

func (cl *CommandList) SetScissor(scissor Rect) error {
	if err := cl.requireRecording("set scissor"); err != nil {
		return err
	}
	cl.buffer.SetScissor(scissor)
	return nil
}

func (cl *CommandList) requireRecording(op string) error {
	if cl.state != COMMAND_LIST_STATE_RECORDING {
		err := fmt.Errorf("cannot %s on a command list in `%s` state: %w", op, cl.state, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (cl *CommandList) markPending(fence Fence) {
	cl.fence = fence
	cl.dependencies = cl.dependencies[:0]
	cl.state = COMMAND_LIST_STATE_PENDING
}

func (cl *CommandList) markCompleted() {
	cl.state = COMMAND_LIST_STATE_COMPLETED
}

func (cl *CommandList) releaseStaging() {
	// release in reverse push order
	for i := len(cl.staging) - 1; i >= 0; i-- {
		cl.staging[i].Destroy()
	}
	cl.staging = cl.staging[:0]
}

// destroy frees the native command buffer. Only used once completion is known.
func (cl *CommandList) destroy() {
	cl.releaseStaging()
	cl.dependencies = nil
	cl.fence = nil
	if cl.buffer != nil {
		cl.buffer.Free()
		cl.buffer = nil
	}
}
