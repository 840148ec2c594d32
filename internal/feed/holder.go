package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/tonimelisma/abide/internal/drive"
)

// ErrSuperseded is returned by Refresh when a newer refresh started before
// this one finished. Its result was discarded.
var ErrSuperseded = errors.New("feed: superseded by a newer refresh")

// FetchFunc loads the complete current list.
type FetchFunc func(ctx context.Context) ([]drive.MediaItem, error)

// Holder publishes the result of the most recent refresh. Overlapping
// refreshes are not merged: each one takes a generation number and only the
// newest generation may publish.
type Holder struct {
	logger *slog.Logger

	mu        sync.Mutex
	gen       uint64
	published uint64
	items     []drive.MediaItem
}

// NewHolder creates an empty Holder.
func NewHolder(logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Holder{logger: logger}
}

// Refresh runs fetch and publishes its result unless a later Refresh (or
// Clear) began in the meantime. A failed fetch leaves the published list
// unchanged.
func (h *Holder) Refresh(ctx context.Context, fetch FetchFunc) ([]drive.MediaItem, error) {
	h.mu.Lock()
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	items, err := fetch(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if gen != h.gen {
		h.logger.Debug("discarding superseded feed refresh",
			slog.Uint64("generation", gen),
			slog.Uint64("latest", h.gen),
		)

		return nil, ErrSuperseded
	}

	if err != nil {
		return nil, err
	}

	h.items = slices.Clone(items)
	h.published = gen

	return slices.Clone(h.items), nil
}

// Items returns a copy of the published list.
func (h *Holder) Items() []drive.MediaItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.items)
}

// Generation returns the generation of the published list, 0 if none.
func (h *Holder) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.published
}

// Clear drops the published list and supersedes any refresh in flight.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gen++
	h.published = 0
	h.items = nil
}
