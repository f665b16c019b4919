package icinga

import (
	"github.com/google/uuid"
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/icinga/icinga-state-engine/pkg/utils"
	"sort"
	"sync"
	"time"
)

// Downtime is a scheduled maintenance window for one checkable.
type Downtime struct {
	ID        string
	Checkable string
	Author    string
	Comment   string
	Start     types.UnixMilli
	End       types.UnixMilli
	EntryTime types.UnixMilli
	Cancelled bool
}

// IsActive returns whether now falls within the scheduled window and
// the downtime has not been cancelled.
func (d *Downtime) IsActive(now time.Time) bool {
	if d.Cancelled {
		return false
	}

	t := types.FromTime(now)
	return !d.Start.Time().After(t.Time()) && !t.Time().After(d.End.Time())
}

// Comment is a free-form annotation on one checkable.
type Comment struct {
	ID        string
	Checkable string
	Author    string
	Text      string
	EntryTime types.UnixMilli
}

// DowntimeIndex answers "is this checkable currently in downtime" and exposes
// active downtime and comment records from a process-wide cache.
//
// The cache is rebuilt lazily: any mutation marks it invalid wholesale, the
// next read rebuilds it in full. Invalidation is deliberately coarse -
// any downtime mutation anywhere invalidates the global cache, favoring
// correctness over rebuild cost.
type DowntimeIndex struct {
	mu    sync.RWMutex
	valid bool

	registry *Registry
	logger   *logging.Logger

	downtimesByID   map[string]*Downtime
	commentsByID    map[string]*Comment
	downtimesByName map[string][]*Downtime
	commentsByName  map[string][]*Comment
}

// NewDowntimeIndex returns a new DowntimeIndex over the given registry.
func NewDowntimeIndex(registry *Registry, logger *logging.Logger) *DowntimeIndex {
	return &DowntimeIndex{registry: registry, logger: logger}
}

// ScheduleDowntime files a new downtime for the given checkable and
// returns the record.
func (ix *DowntimeIndex) ScheduleDowntime(c *Checkable, author, comment string, start, end time.Time) *Downtime {
	d := &Downtime{
		ID:        uuid.NewString(),
		Checkable: c.Name(),
		Author:    author,
		Comment:   comment,
		Start:     types.FromTime(start),
		End:       types.FromTime(end),
		EntryTime: types.FromTime(time.Now()),
	}
	c.addDowntime(d)
	ix.Invalidate()

	return d
}

// CancelDowntime marks the downtime with the given id as cancelled.
func (ix *DowntimeIndex) CancelDowntime(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.rebuildLocked()

	d, ok := ix.downtimesByID[id]
	if !ok {
		return &NotFoundError{Type: "Downtime", Name: id}
	}

	d.Cancelled = true
	ix.invalidateLocked()

	return nil
}

// AddComment files a new comment for the given checkable and returns the record.
func (ix *DowntimeIndex) AddComment(c *Checkable, author, text string) *Comment {
	cm := &Comment{
		ID:        uuid.NewString(),
		Checkable: c.Name(),
		Author:    author,
		Text:      text,
		EntryTime: types.FromTime(time.Now()),
	}
	c.addComment(cm)
	ix.Invalidate()

	return cm
}

// RemoveComment drops the comment with the given id.
func (ix *DowntimeIndex) RemoveComment(id string) error {
	ix.mu.Lock()
	ix.rebuildLocked()

	cm, ok := ix.commentsByID[id]
	ix.mu.Unlock()
	if !ok {
		return &NotFoundError{Type: "Comment", Name: id}
	}

	owner, err := ix.registry.Checkable(cm.Checkable)
	if err != nil {
		return err
	}

	if owner.removeComment(id) {
		ix.Invalidate()
	}

	return nil
}

// GetDowntimes returns the checkable's downtime records, rebuilding the cache first if needed.
func (ix *DowntimeIndex) GetDowntimes(c *Checkable) []*Downtime {
	ix.validate()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return append([]*Downtime(nil), ix.downtimesByName[c.Name()]...)
}

// GetComments returns the checkable's comment records, rebuilding the cache first if needed.
func (ix *DowntimeIndex) GetComments(c *Checkable) []*Comment {
	ix.validate()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return append([]*Comment(nil), ix.commentsByName[c.Name()]...)
}

// IsInDowntime returns whether any of the checkable's downtimes is currently active.
func (ix *DowntimeIndex) IsInDowntime(c *Checkable) bool {
	ix.validate()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	now := time.Now()
	for _, d := range ix.downtimesByName[c.Name()] {
		if d.IsActive(now) {
			return true
		}
	}

	return false
}

// Invalidate marks the cache dirty and clears it immediately.
func (ix *DowntimeIndex) Invalidate() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.invalidateLocked()
}

// OnAttributeChanged invalidates the cache for attribute-change notifications
// carrying the name "downtimes" or "comments", regardless of the checkable.
func (ix *DowntimeIndex) OnAttributeChanged(name string) {
	if name == "downtimes" || name == "comments" {
		ix.Invalidate()
	}
}

func (ix *DowntimeIndex) invalidateLocked() {
	ix.valid = false
	ix.downtimesByID = nil
	ix.commentsByID = nil
	ix.downtimesByName = nil
	ix.commentsByName = nil
}

// validate rebuilds the cache if it is marked invalid.
func (ix *DowntimeIndex) validate() {
	ix.mu.RLock()
	valid := ix.valid
	ix.mu.RUnlock()

	if valid {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.rebuildLocked()
}

// rebuildLocked rebuilds the cache in full from the registry.
// Callers must hold the write lock.
func (ix *DowntimeIndex) rebuildLocked() {
	if ix.valid {
		return
	}

	var downtimes, comments int
	defer utils.Timed(time.Now(), func(elapsed time.Duration) {
		ix.logger.Debugw("Rebuilt downtime and comment index",
			"downtimes", downtimes, "comments", comments, "took", elapsed)
	})

	ix.downtimesByID = map[string]*Downtime{}
	ix.commentsByID = map[string]*Comment{}
	ix.downtimesByName = map[string][]*Downtime{}
	ix.commentsByName = map[string][]*Comment{}

	index := func(c *Checkable) {
		ds := c.downtimeRecords()
		sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
		for _, d := range ds {
			ix.downtimesByID[d.ID] = d
			ix.downtimesByName[c.Name()] = append(ix.downtimesByName[c.Name()], d)
		}

		cs := c.commentRecords()
		sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
		for _, cm := range cs {
			ix.commentsByID[cm.ID] = cm
			ix.commentsByName[c.Name()] = append(ix.commentsByName[c.Name()], cm)
		}

		downtimes += len(ds)
		comments += len(cs)
	}

	ix.registry.EachHost(func(h *Host) { index(&h.Checkable) })
	ix.registry.EachService(func(s *Service) { index(&s.Checkable) })

	ix.valid = true
}
