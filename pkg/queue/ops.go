package queue

import (
	"context"
	"fmt"

	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/types"
)

// PushElement is one caller-supplied message to push.
type PushElement struct {
	Contents              []byte
	VisibilityTimeoutSecs int64
}

// ElementError reports why one element of a push was rejected, per
// spec.md §6. Kind is always ErrContentsTooLarge or
// ErrInvalidVisibilityTimeout here; a whole-request Suspended failure
// is returned as an error instead.
type ElementError struct {
	Index int
	Kind  ErrKind
}

// PushResult carries the per-element errors of a push; an empty slice
// means every element was accepted.
type PushResult struct {
	Errors []ElementError
}

// Push implements C7's push state machine (spec.md §4.6). Rejected
// elements never consume an id; accepted elements are persisted,
// synced, and committed as a single batch before any of them become
// visible for poll.
func (q *Queue) Push(ctx context.Context, elements []PushElement) (PushResult, error) {
	if q.susp.IsSuspended(OpPush) {
		q.susp.recordSuspended(OpPush)
		return PushResult{}, &OpError{Kind: ErrSuspended}
	}

	type accepted struct {
		index int
		elem  PushElement
	}
	var errs []ElementError
	var acc []accepted
	for i, e := range elements {
		switch {
		case uint32(len(e.Contents)) > q.maxContentsLen:
			errs = append(errs, ElementError{Index: i, Kind: ErrContentsTooLarge})
		case e.VisibilityTimeoutSecs < 0:
			errs = append(errs, ElementError{Index: i, Kind: ErrInvalidVisibilityTimeout})
		default:
			acc = append(acc, accepted{index: i, elem: e})
		}
	}

	if k := uint64(len(acc)); k > 0 {
		now := q.nowUnix()
		base := q.ids.Generate(k)

		creations := make([]storage.MessageCreation, k)
		for i, a := range acc {
			creations[i] = storage.MessageCreation{
				ID:        base + uint64(i),
				Contents:  a.elem.Contents,
				CreatedTS: now,
				VisibleTS: now + a.elem.VisibilityTimeoutSecs,
			}
		}

		if err := q.backend.CreateMessages(context.Background(), creations); err != nil {
			panic(fmt.Sprintf("queue: push: create messages: %v", err))
		}
		if err := q.syncer.Submit(context.Background()); err != nil {
			panic(fmt.Sprintf("queue: push: barrier: %v", err))
		}
		if err := q.ids.Commit(context.Background(), base, k); err != nil {
			panic(fmt.Sprintf("queue: push: id commit: %v", err))
		}

		zeroTag := zeroPollTag(q.layout.pollTagWidth())
		for _, c := range creations {
			q.vis.Insert(c.ID, c.VisibleTS, zeroTag)
		}
	}

	q.susp.recordSuccess(OpPush)
	return PushResult{Errors: errs}, nil
}

// Poll implements C7's poll state machine (spec.md §4.6): pop the
// earliest eligible id, deliver it under a fresh poll tag, and only
// then make it visible again to a future poll/delete/update — the
// reinsert-after-write ordering spec.md §4.6 calls load-bearing.
func (q *Queue) Poll(ctx context.Context, visibilityTimeoutSecs int64) (*types.Message, error) {
	if q.susp.IsSuspended(OpPoll) {
		q.susp.recordSuspended(OpPoll)
		return nil, &OpError{Kind: ErrSuspended}
	}

	now := q.nowUnix()
	id, ok := q.vis.PopEarliestVisible(now)
	if !ok {
		q.susp.recordEmptyPoll()
		return nil, nil
	}

	stored, err := q.backend.ReadMessage(context.Background(), id)
	if err != nil {
		panic(fmt.Sprintf("queue: poll: read message %d: %v", id, err))
	}

	newPollCount := stored.PollCount + 1
	newVisibleTS := now + visibilityTimeoutSecs
	newTag := freshPollTagAfterPoll(q.layout, stored.PollTag)

	if err := q.backend.RewriteAfterPoll(context.Background(), id, newTag, newVisibleTS, newPollCount); err != nil {
		panic(fmt.Sprintf("queue: poll: rewrite %d: %v", id, err))
	}
	if err := q.syncer.Submit(context.Background()); err != nil {
		panic(fmt.Sprintf("queue: poll: barrier: %v", err))
	}

	q.vis.Insert(id, newVisibleTS, newTag)
	q.susp.recordSuccess(OpPoll)

	return &types.Message{
		ID:        id,
		Contents:  stored.Contents,
		CreatedTS: stored.CreatedTS,
		VisibleTS: newVisibleTS,
		PollCount: newPollCount,
		PollTag:   newTag,
		State:     types.StateAvailable,
	}, nil
}

// Update implements C7's update state machine (spec.md §4.6): it
// extends a delivery's visibility timeout and rotates its poll tag,
// but only if the caller's tag is still the current one.
func (q *Queue) Update(ctx context.Context, id uint64, pollTag types.PollTag, visibilityTimeoutSecs int64) (types.PollTag, error) {
	if q.susp.IsSuspended(OpUpdate) {
		q.susp.recordSuspended(OpUpdate)
		return nil, &OpError{Kind: ErrSuspended}
	}

	if !q.vis.RemoveIfTagMatches(id, pollTag) {
		q.susp.recordMissing(OpUpdate)
		return nil, &OpError{Kind: ErrMessageNotFound}
	}

	now := q.nowUnix()
	newVisibleTS := now + visibilityTimeoutSecs
	newTag := incrementPollTag(pollTag, q.layout.pollTagWidth())

	mut := storage.Mutation{Kind: storage.MutationUpdate, ID: id, NewTag: newTag, VisibleTS: newVisibleTS}
	if err := q.backend.ApplyMutations(context.Background(), []storage.Mutation{mut}); err != nil {
		panic(fmt.Sprintf("queue: update: apply mutation %d: %v", id, err))
	}
	if err := q.syncer.Submit(context.Background()); err != nil {
		panic(fmt.Sprintf("queue: update: barrier: %v", err))
	}

	q.vis.Insert(id, newVisibleTS, newTag)
	q.susp.recordSuccess(OpUpdate)
	return newTag, nil
}

// DeleteElement is one caller-supplied (id, poll_tag) pair to delete.
type DeleteElement struct {
	ID      uint64
	PollTag types.PollTag
}

// Delete implements C7's delete state machine (spec.md §4.6).
// Non-matching elements are silently counted as missing, never
// reported back to the caller (spec.md §6).
func (q *Queue) Delete(ctx context.Context, elements []DeleteElement) error {
	if q.susp.IsSuspended(OpDelete) {
		q.susp.recordSuspended(OpDelete)
		return &OpError{Kind: ErrSuspended}
	}

	var muts []storage.Mutation
	var freed []uint64
	for _, e := range elements {
		if !q.vis.RemoveIfTagMatches(e.ID, e.PollTag) {
			q.susp.recordMissing(OpDelete)
			continue
		}
		muts = append(muts, storage.Mutation{Kind: storage.MutationDelete, ID: e.ID})
		freed = append(freed, e.ID)
	}

	if len(muts) == 0 {
		return nil
	}

	if err := q.backend.ApplyMutations(context.Background(), muts); err != nil {
		panic(fmt.Sprintf("queue: delete: apply mutations: %v", err))
	}
	if err := q.syncer.Submit(context.Background()); err != nil {
		panic(fmt.Sprintf("queue: delete: barrier: %v", err))
	}

	for range muts {
		q.susp.recordSuccess(OpDelete)
	}
	if q.vacant != nil {
		for _, id := range freed {
			q.vacant.Add(id)
		}
	}
	return nil
}
