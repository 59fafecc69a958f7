// Package iq provides a minimal issue-side collaborator for the memory
// dependence unit: a queue of instructions that are ready to dispatch.
package iq

import "github.com/sarchlab/o3sim/insts"

// ReadyQueue collects instructions the memory dependence unit has
// declared ready to issue. The dispatch logic pops them in notification
// order. Repeated ready signals for the same sequence number are
// absorbed here, so the dependence unit never has to guard against
// double notification.
type ReadyQueue struct {
	queue  []*insts.DynInst
	queued map[uint64]bool
}

// NewReadyQueue creates an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{
		queued: make(map[uint64]bool),
	}
}

// AddReadyMemInst enqueues an instruction that became ready to issue.
// A sequence number already in the queue is not enqueued again.
func (q *ReadyQueue) AddReadyMemInst(inst *insts.DynInst) {
	if q.queued[inst.SeqNum] {
		return
	}
	q.queued[inst.SeqNum] = true
	q.queue = append(q.queue, inst)
}

// Pop removes and returns the oldest ready instruction, or nil if the
// queue is empty.
func (q *ReadyQueue) Pop() *insts.DynInst {
	if len(q.queue) == 0 {
		return nil
	}
	inst := q.queue[0]
	q.queue = q.queue[1:]
	delete(q.queued, inst.SeqNum)
	return inst
}

// Len returns the number of queued instructions.
func (q *ReadyQueue) Len() int {
	return len(q.queue)
}

// Squash drops every queued instruction of the given thread younger than
// squashedSeqNum, mirroring a pipeline flush.
func (q *ReadyQueue) Squash(squashedSeqNum uint64, tid int) {
	kept := q.queue[:0]
	for _, inst := range q.queue {
		if inst.ThreadID == tid && inst.SeqNum > squashedSeqNum {
			delete(q.queued, inst.SeqNum)
			continue
		}
		kept = append(kept, inst)
	}
	q.queue = kept
}
