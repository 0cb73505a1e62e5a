package service

import (
	"context"
	"errors"
	"log"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/event"
	"github.com/misaka-danmu/danmu-server/internal/library"
)

type DeleteRequest struct {
	AnimeIDs []uint `json:"animeIds"`
}

type DeleteResult struct {
	Deleted []uint `json:"deleted"`
	Missing []uint `json:"missing"`
}

// Deleter removes entries one at a time, each under its own lock.
type Deleter struct {
	store *library.Store
	bus   event.Bus
}

func NewDeleter(store *library.Store, bus event.Bus) *Deleter {
	if bus == nil {
		bus = event.Nop{}
	}
	return &Deleter{store: store, bus: bus}
}

func (d *Deleter) Delete(ctx context.Context, req DeleteRequest, hooks TaskHooks) (*DeleteResult, error) {
	if len(req.AnimeIDs) == 0 {
		return nil, apperr.Invalid("animeIds must not be empty")
	}
	hooks.SetTotal(len(req.AnimeIDs))

	res := &DeleteResult{Deleted: []uint{}, Missing: []uint{}}
	for _, id := range req.AnimeIDs {
		if err := hooks.Checkpoint(); err != nil {
			return res, err
		}
		release, err := hooks.Lock(id)
		if err != nil {
			return res, err
		}
		err = d.store.DeleteAnime(ctx, id)
		release()
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, id)
		case errors.Is(err, apperr.ErrEntryNotFound):
			res.Missing = append(res.Missing, id)
		default:
			return res, err
		}
		hooks.Advance(1)
	}

	log.Printf("Deleter: deleted %d entries, %d missing", len(res.Deleted), len(res.Missing))
	if len(res.Deleted) > 0 {
		d.bus.Publish(event.EventLibraryChanged, LibraryChange{Action: "delete", AnimeIDs: res.Deleted})
	}
	return res, nil
}

type MaintenanceResult struct {
	Recounted      int   `json:"recounted"`
	OrphansRemoved int64 `json:"orphansRemoved"`
}

// Maintenance 定时维护：重新计算 sourceCount 并清理孤儿源
type Maintenance struct {
	store *library.Store
}

func NewMaintenance(store *library.Store) *Maintenance {
	return &Maintenance{store: store}
}

func (m *Maintenance) Run(ctx context.Context, hooks TaskHooks) (*MaintenanceResult, error) {
	ids, err := m.store.AllAnimeIDs(ctx)
	if err != nil {
		return nil, err
	}
	hooks.SetTotal(len(ids) + 1)

	res := &MaintenanceResult{}
	for _, id := range ids {
		if err := hooks.Checkpoint(); err != nil {
			return res, err
		}
		release, err := hooks.Lock(id)
		if err != nil {
			return res, err
		}
		err = m.store.RecountSources(ctx, id)
		release()
		if err != nil {
			return res, err
		}
		res.Recounted++
		hooks.Advance(1)
	}

	if err := hooks.Checkpoint(); err != nil {
		return res, err
	}
	orphans, err := m.store.OrphanSourceIDs(ctx)
	if err != nil {
		return res, err
	}
	if res.OrphansRemoved, err = m.store.DeleteSourcesByID(ctx, orphans); err != nil {
		return res, err
	}
	hooks.Advance(1)

	log.Printf("Maintenance: recounted %d entries, removed %d orphan sources", res.Recounted, res.OrphansRemoved)
	return res, nil
}
