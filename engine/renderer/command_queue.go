package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// SubmitInfo carries dependencies supplied by the caller in addition to the
// ones recorded on the command list.
type SubmitInfo struct {
	Waits   []SemaphoreWait
	Signals []Semaphore
	// Fence, when set, is used instead of a pooled fence. The queue never
	// resets or destroys a caller-owned fence.
	Fence Fence
}

type CommandQueueConfig struct {
	Flags QueueFlags
	// CommandListCap bounds the outstanding lists; zero means unbounded.
	CommandListCap uint32
	// FenceTimeout bounds every blocking fence wait. core.WaitForever blocks.
	FenceTimeout time.Duration
}

type inFlightList struct {
	list       *CommandList
	fence      Fence
	ownedFence bool
}

// CommandQueue submits command lists to one hardware queue and recycles them
// once their fences signal.
//
// A CommandQueue is meant to be driven by a single producer thread. Callers
// that submit from several goroutines must synchronize externally.
type CommandQueue struct {
	device  Device
	queue   HardwareQueue
	flags   QueueFlags
	cap     uint32
	timeout time.Duration

	// retired and in-flight lists, oldest first
	cache *containers.RingQueue[inFlightList]
	// signaled-and-reset fences ready for reuse
	fences *containers.RingQueue[Fence]
}

func NewCommandQueue(device Device, config CommandQueueConfig) (*CommandQueue, error) {
	queue, err := device.Queue(config.Flags)
	if err != nil {
		err = fmt.Errorf("no hardware queue for flags %b: %w", config.Flags, err)
		core.LogError(err.Error())
		return nil, err
	}
	timeout := config.FenceTimeout
	if timeout == 0 {
		timeout = core.WaitForever
	}
	return &CommandQueue{
		device:  device,
		queue:   queue,
		flags:   config.Flags,
		cap:     config.CommandListCap,
		timeout: timeout,
		cache:   containers.NewGrowableRingQueue[inFlightList](8),
		fences:  containers.NewGrowableRingQueue[Fence](8),
	}, nil
}

func (q *CommandQueue) Flags() QueueFlags {
	return q.flags
}

// Outstanding is the number of lists handed to the device and not yet recycled.
func (q *CommandQueue) Outstanding() int {
	return q.cache.Len()
}

// Release returns a list ready for recording. The oldest cached list is
// reused once its fence has signaled; when the cap is exceeded the call
// blocks on that fence instead of allocating.
func (q *CommandQueue) Release() (*CommandList, error) {
	if !q.cache.IsEmpty() {
		oldest, _ := q.cache.Peek()

		signaled, err := oldest.fence.Status()
		if err != nil {
			err = fmt.Errorf("failed to query fence status: %v: %w", err, core.ErrSynchronization)
			core.LogError(err.Error())
			return nil, err
		}
		if !signaled && q.cap > 0 && uint32(q.cache.Len()) > q.cap {
			core.LogDebug("command list cap %d reached, waiting for the oldest submission", q.cap)
			if err := q.waitFence(oldest.fence); err != nil {
				return nil, err
			}
			signaled = true
		}

		if signaled {
			entry, _ := q.cache.Dequeue()
			// a list that cannot be recycled has left the cache and is freed here
			if err := q.retire(entry); err != nil {
				entry.list.destroy()
				return nil, err
			}
			if err := entry.list.Reset(); err != nil {
				entry.list.destroy()
				return nil, err
			}
			return entry.list, nil
		}
	}

	buffer, err := q.device.CreateCommandBuffer(q.queue)
	if err != nil {
		err = fmt.Errorf("failed to allocate command buffer: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return newCommandList(q, buffer), nil
}

// Submit hands list to the device. A list still recording is ended first.
// When wait is true the call blocks until this submission's fence signals.
func (q *CommandQueue) Submit(list *CommandList, info SubmitInfo, wait bool) error {
	if list.queue != q {
		err := fmt.Errorf("command list belongs to another queue: %w", core.ErrArgument)
		core.LogError(err.Error())
		return err
	}
	if list.state == COMMAND_LIST_STATE_RECORDING {
		if err := list.End(); err != nil {
			return err
		}
	}
	if list.state != COMMAND_LIST_STATE_EXECUTABLE {
		err := fmt.Errorf("cannot submit a command list in `%s` state: %w", list.state, core.ErrStateMisuse)
		core.LogError(err.Error())
		return err
	}

	batch := SubmitBatch{
		CommandBuffers: []CommandBuffer{list.buffer},
	}
	for _, dep := range list.dependencies {
		switch dep.usage {
		case SemaphoreUsageWait:
			batch.Waits = append(batch.Waits, SemaphoreWait{Semaphore: dep.semaphore, Stage: dep.stage})
		case SemaphoreUsageSignal:
			batch.Signals = append(batch.Signals, dep.semaphore)
		}
	}
	batch.Waits = append(batch.Waits, info.Waits...)
	batch.Signals = append(batch.Signals, info.Signals...)

	fence, owned, err := q.acquireFence(info.Fence)
	if err != nil {
		return err
	}

	if err := q.queue.Submit(batch, fence); err != nil {
		if owned {
			_ = q.fences.Enqueue(fence)
		}
		err = fmt.Errorf("queue submission failed: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}

	list.markPending(fence)
	_ = q.cache.Enqueue(inFlightList{list: list, fence: fence, ownedFence: owned})

	if wait {
		return q.waitFence(fence)
	}
	return nil
}

// Wait blocks until the hardware queue is idle.
func (q *CommandQueue) Wait() error {
	if err := q.queue.WaitIdle(); err != nil {
		err = fmt.Errorf("queue wait idle failed: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// ClearCache waits for the queue to idle and destroys every cached list and
// every fence the queue owns.
func (q *CommandQueue) ClearCache() error {
	if err := q.Wait(); err != nil {
		return err
	}
	q.cache.Drain(func(entry inFlightList) {
		entry.list.markCompleted()
		entry.list.destroy()
		if entry.ownedFence {
			entry.fence.Destroy()
		}
	})
	q.fences.Drain(func(f Fence) {
		f.Destroy()
	})
	return nil
}

func (q *CommandQueue) CommandListCap() uint32 {
	return q.cap
}

// SetCommandListCap changes the cap and clears the cache.
func (q *CommandQueue) SetCommandListCap(limit uint32) error {
	q.cap = limit
	return q.ClearCache()
}

// Destroy releases every object owned by the queue.
func (q *CommandQueue) Destroy() error {
	return q.ClearCache()
}

func (q *CommandQueue) acquireFence(external Fence) (Fence, bool, error) {
	if external != nil {
		return external, false, nil
	}
	if f, err := q.fences.Dequeue(); err == nil {
		return f, true, nil
	}
	f, err := q.device.CreateFence(false)
	if err != nil {
		err = fmt.Errorf("failed to create fence: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return nil, false, err
	}
	return f, true, nil
}

// retire marks the list completed and recycles its fence when the queue owns it.
func (q *CommandQueue) retire(entry inFlightList) error {
	entry.list.markCompleted()
	if !entry.ownedFence {
		return nil
	}
	if err := entry.fence.Reset(); err != nil {
		err = fmt.Errorf("failed to reset fence: %v: %w", err, core.ErrSynchronization)
		core.LogError(err.Error())
		return err
	}
	return q.fences.Enqueue(entry.fence)
}

func (q *CommandQueue) waitFence(fence Fence) error {
	if err := fence.Wait(q.timeout); err != nil {
		if errors.Is(err, core.ErrTimeout) {
			core.LogWarn("fence wait timed out after %s", q.timeout)
			return err
		}
		err = fmt.Errorf("fence wait failed: %w", err)
		core.LogError(err.Error())
		return err
	}
	return nil
}
