package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/checkin"
	"github.com/sakif/propability/internal/metrics"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
	"github.com/sakif/propability/internal/session"
)

// MaxNicknameLength is the longest nickname a cutting may carry, in characters.
const MaxNicknameLength = 100

// Feedback acknowledgements returned by RecordFeedback.
const (
	FeedbackRootedMessage    = "Great! We've noted this success for future AI training."
	FeedbackNotRootedMessage = "Understood. We've logged this failure to improve our model."
)

// Registry is the signed-in user's cached collection of cuttings.
//
// INVARIANTS:
//   - Every cached cutting belongs to the current session's owner. The
//     registry subscribes to the session feed and drops everything when the
//     session ends or changes hands.
//   - Items() is always ordered newest CreatedAt first.
//   - Remote writes happen before local ones. A failed store call leaves the
//     cache exactly as it was.
//
// LOAD ORDERING:
// Every Load takes a sequence number when it starts. A completion is applied
// only if no later-started Load has already been applied, so a slow, stale
// response can never overwrite a fresher one.
type Registry struct {
	session   session.Source
	repo      repository.CuttingRepository
	scheduler *checkin.Scheduler
	metrics   metrics.Recorder
	logger    *slog.Logger

	mu          sync.RWMutex
	owner       string
	items       []model.Cutting
	loadSeq     uint64
	appliedSeq  uint64
	unsubscribe func()
}

// NewRegistry returns an empty Registry subscribed to feed.
func NewRegistry(
	feed session.Feed,
	repo repository.CuttingRepository,
	scheduler *checkin.Scheduler,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Registry {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		session:   feed,
		repo:      repo,
		scheduler: scheduler,
		metrics:   recorder,
		logger:    logger,
		items:     []model.Cutting{},
	}
	r.unsubscribe = feed.Subscribe(r.onSessionChange)
	return r
}

// Close stops listening to the session feed.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// onSessionChange clears the cache on sign-out or when a different user
// signs in. Loads already in flight are invalidated too.
func (r *Registry) onSessionChange(s *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s != nil && s.UserID == r.owner {
		return
	}
	r.clearLocked()
	if s != nil {
		r.owner = s.UserID
	}
}

func (r *Registry) clearLocked() {
	if len(r.items) > 0 {
		r.logger.Info("registry cleared", slog.String("userID", r.owner), slog.Int("items", len(r.items)))
	}
	r.owner = ""
	r.items = []model.Cutting{}
	r.appliedSeq = r.loadSeq
}

// current returns the session owner, or Unauthenticated.
func (r *Registry) current(operation string) (string, error) {
	s, ok := r.session.Current()
	if !ok {
		return "", apperror.Unauthenticated(operation)
	}
	return s.UserID, nil
}

// Load fetches the owner's cuttings and replaces the cache with them.
func (r *Registry) Load(ctx context.Context) ([]model.Cutting, error) {
	ownerID, err := r.current("load cuttings")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.loadSeq++
	seq := r.loadSeq
	r.mu.Unlock()

	list, err := r.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		r.metrics.RecordSyncFailure("load")
		r.logger.Error("loading cuttings failed",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.SyncFailed("load cuttings", err)
	}

	fresh := make([]model.Cutting, 0, len(list))
	for _, c := range list {
		if c.OwnerID == ownerID {
			fresh = append(fresh, c)
		}
	}
	sortNewestFirst(fresh)

	r.mu.Lock()
	defer r.mu.Unlock()

	// A newer load already landed, or the session changed since this one started.
	if seq <= r.appliedSeq {
		r.logger.Debug("discarding stale load", slog.Uint64("seq", seq), slog.Uint64("applied", r.appliedSeq))
		return cloneItems(r.items), nil
	}
	if s, ok := r.session.Current(); !ok || s.UserID != ownerID {
		return nil, apperror.Unauthenticated("load cuttings")
	}

	r.appliedSeq = seq
	r.owner = ownerID
	r.items = fresh
	return cloneItems(fresh), nil
}

// Items returns a copy of the cached collection, newest first.
func (r *Registry) Items() []model.Cutting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneItems(r.items)
}

// Get returns one cached cutting.
func (r *Registry) Get(id string) (model.Cutting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(id)
	if i < 0 {
		return model.Cutting{}, false
	}
	return r.items[i], true
}

// Merge inserts or replaces c in the cache, keeping the newest-first order.
// Cuttings owned by anyone but the current owner are ignored.
func (r *Registry) Merge(c model.Cutting) {
	s, ok := r.session.Current()
	if !ok || s.UserID != c.OwnerID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != "" && r.owner != c.OwnerID {
		return
	}
	r.owner = c.OwnerID
	if i := r.indexLocked(c.ID); i >= 0 {
		r.items[i] = c
		return
	}
	r.items = append(r.items, c)
	sortNewestFirst(r.items)
}

// Rename changes a cutting's nickname in the store, then in the cache.
func (r *Registry) Rename(ctx context.Context, id, nickname string) (*model.Cutting, error) {
	ownerID, err := r.current("rename cutting")
	if err != nil {
		return nil, err
	}

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, apperror.ValidationFailed("nickname", "nickname must not be empty")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return nil, apperror.ValidationFailed("nickname",
			fmt.Sprintf("nickname must be %d characters or less", MaxNicknameLength))
	}

	updated, err := r.repo.UpdateNickname(ctx, ownerID, id, nickname)
	if err != nil {
		r.metrics.RecordSyncFailure("rename")
		r.logger.Error("renaming cutting failed",
			slog.String("cuttingID", id),
			slog.String("error", err.Error()),
		)
		return nil, apperror.SyncFailed("rename cutting", err)
	}

	r.mu.Lock()
	if i := r.indexLocked(id); i >= 0 && r.owner == ownerID {
		// Only the nickname changes; CreatedAt is immutable so order holds.
		r.items[i].Nickname = updated.Nickname
		r.items[i].UpdatedAt = updated.UpdatedAt
	}
	r.mu.Unlock()

	r.logger.Info("cutting renamed", slog.String("cuttingID", id), slog.String("nickname", updated.Nickname))
	return updated, nil
}

// Remove deletes a cutting from the store, then from the cache. The caller
// has already confirmed the deletion with the user.
func (r *Registry) Remove(ctx context.Context, id string) error {
	ownerID, err := r.current("remove cutting")
	if err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, ownerID, id); err != nil {
		r.metrics.RecordSyncFailure("remove")
		r.logger.Error("removing cutting failed",
			slog.String("cuttingID", id),
			slog.String("error", err.Error()),
		)
		return apperror.SyncFailed("remove cutting", err)
	}

	r.mu.Lock()
	if i := r.indexLocked(id); i >= 0 && r.owner == ownerID {
		r.items = append(r.items[:i], r.items[i+1:]...)
	}
	r.mu.Unlock()

	r.logger.Info("cutting removed", slog.String("cuttingID", id))
	return nil
}

// RecordFeedback notes whether an eligible cutting rooted. Nothing stored
// on the cutting changes; the observation goes to the log and to metrics.
// It returns the acknowledgement to show the user.
func (r *Registry) RecordFeedback(ctx context.Context, id string, rooted bool) (string, error) {
	ownerID, err := r.current("record feedback")
	if err != nil {
		return "", err
	}

	c, ok := r.Get(id)
	if !ok {
		found, err := r.repo.GetByID(ctx, ownerID, id)
		if err != nil {
			return "", fmt.Errorf("looking up cutting %s: %w", id, err)
		}
		c = *found
	}

	w := r.scheduler.Window(c)
	if !w.Eligible {
		return "", apperror.ValidationFailed("cutting",
			fmt.Sprintf("check-in opens on %s", w.EligibleAt.Format("Jan 2, 2006")))
	}

	r.metrics.RecordCheckinFeedback(rooted)
	r.logger.Info("check-in feedback recorded",
		slog.String("userID", ownerID),
		slog.String("cuttingID", c.ID),
		slog.Bool("rooted", rooted),
		slog.Int("elapsedDays", w.ElapsedDays),
		slog.Int("successRate", c.SuccessRate),
	)

	if rooted {
		return FeedbackRootedMessage, nil
	}
	return FeedbackNotRootedMessage, nil
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

// sortNewestFirst orders by CreatedAt descending, then ID descending so
// equal timestamps still have a fixed order.
func sortNewestFirst(items []model.Cutting) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func cloneItems(items []model.Cutting) []model.Cutting {
	out := make([]model.Cutting, len(items))
	copy(out, items)
	return out
}
