package service

import (
	"context"
	"fmt"
	"log"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/library"
	"github.com/misaka-danmu/danmu-server/internal/model"
)

type MergeOperation struct {
	TargetAnimeID  uint   `json:"targetAnimeId"`
	SourceAnimeIDs []uint `json:"sourceAnimeIds"`
}

// AnimeIDs 返回操作涉及的全部条目，目标在前
func (op MergeOperation) AnimeIDs() []uint {
	ids := make([]uint, 0, len(op.SourceAnimeIDs)+1)
	ids = append(ids, op.TargetAnimeID)
	return append(ids, op.SourceAnimeIDs...)
}

// Validate rejects malformed operations before anything is touched.
func (op MergeOperation) Validate() error {
	if op.TargetAnimeID == 0 {
		return apperr.Invalid("targetAnimeId is required")
	}
	if len(op.SourceAnimeIDs) == 0 {
		return apperr.Invalid("sourceAnimeIds must not be empty")
	}
	seen := make(map[uint]struct{}, len(op.SourceAnimeIDs))
	for _, id := range op.SourceAnimeIDs {
		if id == 0 {
			return apperr.Invalid("sourceAnimeIds contains an empty id")
		}
		if id == op.TargetAnimeID {
			return apperr.Invalid("target %d is also listed as a source", id)
		}
		if _, dup := seen[id]; dup {
			return apperr.Invalid("source %d listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type MergeResult struct {
	Success           bool           `json:"success"`
	MergedSourceCount int            `json:"mergedSourceCount"`
	Error             *apperr.Detail `json:"error,omitempty"`
}

// MergeExecutor moves every source of the duplicate entries onto the kept entry and
// deletes the duplicates, all inside one transaction. Callers hold the entry locks.
type MergeExecutor struct {
	store *library.Store
	bus   event.Bus
}

func NewMergeExecutor(store *library.Store, bus event.Bus) *MergeExecutor {
	if bus == nil {
		bus = event.Nop{}
	}
	return &MergeExecutor{store: store, bus: bus}
}

// Merge 失败时库状态与调用前完全一致
func (m *MergeExecutor) Merge(ctx context.Context, op MergeOperation) (MergeResult, error) {
	moved, err := m.merge(ctx, op)
	if err != nil {
		log.Printf("MergeExecutor: merge into %d failed: %v", op.TargetAnimeID, err)
		return MergeResult{Error: apperr.NewDetail(err)}, err
	}

	log.Printf("MergeExecutor: merged %v into %d (%d sources moved)", op.SourceAnimeIDs, op.TargetAnimeID, moved)
	m.bus.Publish(event.EventLibraryChanged, LibraryChange{Action: "merge", AnimeIDs: op.AnimeIDs()})
	return MergeResult{Success: true, MergedSourceCount: moved}, nil
}

func (m *MergeExecutor) merge(ctx context.Context, op MergeOperation) (int, error) {
	if err := op.Validate(); err != nil {
		return 0, err
	}

	var moved int
	err := m.store.Transaction(ctx, func(tx *library.Store) error {
		exists, err := tx.ExistingIDs(ctx, op.AnimeIDs())
		if err != nil {
			return err
		}
		for _, id := range op.AnimeIDs() {
			if !exists[id] {
				return apperr.NotFound("anime %d", id)
			}
		}

		ordered, err := tx.ListSources(ctx, op.TargetAnimeID)
		if err != nil {
			return err
		}
		keep := firstFavorite(ordered)

		incoming := make([]model.Source, 0)
		for _, id := range op.SourceAnimeIDs {
			sources, err := tx.ListSources(ctx, id)
			if err != nil {
				return err
			}
			incoming = append(incoming, sources...)
		}
		if keep == 0 {
			keep = firstFavorite(incoming)
		}

		ids := make([]uint, 0, len(incoming))
		for _, src := range incoming {
			ids = append(ids, src.ID)
		}
		n, err := tx.MoveSources(ctx, ids, op.TargetAnimeID)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("%w: moved %d of %d sources", apperr.ErrStoreUnavailable, n, len(ids))
		}
		moved = len(ids)

		ordered = append(ordered, incoming...)
		if err := tx.ReorderSources(ctx, ordered); err != nil {
			return err
		}
		if err := tx.KeepFavorite(ctx, op.TargetAnimeID, keep); err != nil {
			return err
		}
		if err := tx.DeleteAnimeRows(ctx, op.SourceAnimeIDs); err != nil {
			return err
		}
		return tx.RecountSources(ctx, op.TargetAnimeID)
	})
	if err != nil {
		return 0, apperr.Store(err, "merge into anime %d", op.TargetAnimeID)
	}
	return moved, nil
}

func firstFavorite(sources []model.Source) uint {
	for _, src := range sources {
		if src.IsFavorited {
			return src.ID
		}
	}
	return 0
}

// LibraryChange library_changed 事件的载荷
type LibraryChange struct {
	Action   string `json:"action"`
	AnimeIDs []uint `json:"animeIds"`
}
