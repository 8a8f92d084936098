// Package service implements the transaction mutation pipeline: atomic writes of the
// transaction row, its audit entry and the recipients' notifications, followed by
// best-effort cache invalidation and realtime broadcast once the write has committed.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/metrics"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Realtime event names emitted after a committed mutation
const (
	EventCreated = "transaction:created"
	EventUpdated = "transaction:updated"
	EventDeleted = "transaction:deleted"
)

// Cache keys
const (
	ListIndexKey  = "transactions:keys"
	listKeyPrefix = "transactions:"
	itemKeyPrefix = "transaction:"
)

const (
	DefaultCacheTTL       = 5 * time.Minute
	DefaultConflictWindow = 5 * time.Second
	DefaultPageSize       = 20
	MaxPageSize           = 100
)

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrInvalidInput = errors.New("invalid transaction input")
)

// Broadcaster delivers an event to every currently connected client. Delivery is
// fire-and-forget.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Actor is the authenticated user performing a mutation
type Actor struct {
	ID   uint
	Name string
}

func (a Actor) displayName() string {
	if a.Name == "" {
		return "another user"
	}
	return a.Name
}

// CreateInput holds the fields of a new transaction
type CreateInput struct {
	Title       string
	Amount      decimal.Decimal
	Category    string
	Type        domain.TransactionType
	Date        time.Time
	Description string
}

// UpdateInput holds optional fields; nil leaves the stored value unchanged
type UpdateInput struct {
	Title       *string
	Amount      *decimal.Decimal
	Category    *string
	Type        *domain.TransactionType
	Date        *time.Time
	Description *string
}

// Conflict annotates an update that landed shortly after another user's edit
type Conflict struct {
	IsConflict         bool      `json:"isConflict"`
	Message            string    `json:"message"`
	LastModifiedBy     uint      `json:"lastModifiedBy"`
	LastModifiedByName string    `json:"lastModifiedByName,omitempty"`
	LastModifiedAt     time.Time `json:"lastModifiedAt"`
}

// ActorRef identifies who performed a mutation in broadcast payloads
type ActorRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// MutationResult is returned by Create and Update
type MutationResult struct {
	Transaction domain.Transaction `json:"transaction"`
	Conflict    *Conflict          `json:"conflict,omitempty"`
}

// TransactionDetail is a single transaction with its audit trail, newest first
type TransactionDetail struct {
	domain.Transaction
	History []domain.TransactionHistory `json:"history"`
}

// Pagination metadata of a list response
type Pagination struct {
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	Limit       int   `json:"limit"`
}

// ListResult is one page of transactions
type ListResult struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// Mutation describes a committed write; post-commit hooks receive it
type Mutation struct {
	Kind        domain.ChangeType
	Actor       ActorRef
	Transaction domain.Transaction
	Conflict    *Conflict
}

// PostCommitHook runs after a mutation committed. Its error is logged, never returned.
type PostCommitHook func(ctx context.Context, m Mutation) error

// Options configures a TransactionService
type Options struct {
	Cache          *utils.Cache
	Broadcaster    Broadcaster
	Logger         logrus.FieldLogger
	CacheTTL       time.Duration
	ConflictWindow time.Duration
	// BypassCacheReads ignores cache hits (development mode); results are still cached.
	BypassCacheReads bool
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// TransactionService is the mutation pipeline and the cached read path
type TransactionService struct {
	store          *store.Store
	cache          *utils.Cache
	log            logrus.FieldLogger
	cacheTTL       time.Duration
	conflictWindow time.Duration
	bypassReads    bool
	now            func() time.Time
	hooks          []PostCommitHook
}

// NewTransactionService wires the pipeline. Cache invalidation always runs before the
// broadcast hook so clients refetching on an event never read the pre-commit entry.
func NewTransactionService(st *store.Store, opts Options) *TransactionService {
	s := &TransactionService{
		store:          st,
		cache:          opts.Cache,
		log:            opts.Logger,
		cacheTTL:       opts.CacheTTL,
		conflictWindow: opts.ConflictWindow,
		bypassReads:    opts.BypassCacheReads,
		now:            opts.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = DefaultCacheTTL
	}
	if s.conflictWindow <= 0 {
		s.conflictWindow = DefaultConflictWindow
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.hooks = []PostCommitHook{s.invalidateCache}
	if opts.Broadcaster != nil {
		s.hooks = append(s.hooks, BroadcastHook(opts.Broadcaster))
	}
	return s
}

// AddHook appends a post-commit hook
func (s *TransactionService) AddHook(h PostCommitHook) {
	s.hooks = append(s.hooks, h)
}

// Create inserts a transaction with its history entry and notifications in one atomic scope
func (s *TransactionService) Create(ctx context.Context, actor Actor, in CreateInput) (*MutationResult, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	now := s.now()
	tx := domain.Transaction{
		Title:           in.Title,
		Amount:          in.Amount,
		Category:        in.Category,
		Type:            in.Type,
		TransactionDate: in.Date.UTC(),
		Description:     in.Description,
		CreatedBy:       actor.ID,
		LastModifiedBy:  actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.store.Atomic(ctx, func(st *store.Store) error {
		if err := st.CreateTransaction(ctx, &tx); err != nil {
			return err
		}
		if err := appendHistory(ctx, st, domain.ChangeCreate, actor.ID, nil, &tx, now); err != nil {
			return err
		}
		msg := fmt.Sprintf("New transaction %q was created by %s", tx.Title, actor.displayName())
		return notifyOthers(ctx, st, actor.ID, tx.ID, msg, now)
	})
	if err != nil {
		return nil, s.failed("create", actor, 0, err)
	}
	tx.CreatedByName, tx.ModifiedByName = actor.Name, actor.Name
	s.committed(ctx, Mutation{Kind: domain.ChangeCreate, Actor: actor.ref(), Transaction: tx})
	return &MutationResult{Transaction: tx}, nil
}

// Update applies the given fields to a live transaction. An edit by another user within
// the conflict window does not block the update; it is reported in the result.
func (s *TransactionService) Update(ctx context.Context, actor Actor, id uint, in UpdateInput) (*MutationResult, error) {
	if err := validateUpdate(in); err != nil {
		return nil, err
	}
	now := s.now()
	var (
		updated  domain.Transaction
		conflict *Conflict
	)
	err := s.store.Atomic(ctx, func(st *store.Store) error {
		current, err := st.FindActiveTransaction(ctx, id)
		if err != nil {
			return err
		}
		recent, err := st.LatestForeignEdit(ctx, id, actor.ID, now.Add(-s.conflictWindow))
		if err != nil {
			return err
		}
		if recent != nil {
			conflict = &Conflict{
				IsConflict:         true,
				Message:            "This transaction was recently modified by another user",
				LastModifiedBy:     recent.ModifiedBy,
				LastModifiedByName: recent.ModifiedByName,
				LastModifiedAt:     recent.ModifiedAt,
			}
		}
		updated = applyUpdate(current, in)
		updated.LastModifiedBy = actor.ID
		updated.UpdatedAt = now
		if err := st.SaveTransaction(ctx, &updated); err != nil {
			return err
		}
		if err := appendHistory(ctx, st, domain.ChangeUpdate, actor.ID, &current, &updated, now); err != nil {
			return err
		}
		msg := fmt.Sprintf("Transaction %q was updated by %s", updated.Title, actor.displayName())
		return notifyOthers(ctx, st, actor.ID, id, msg, now)
	})
	if err != nil {
		return nil, s.failed("update", actor, id, err)
	}
	if conflict != nil {
		metrics.Conflicts.Inc()
		s.log.WithFields(logrus.Fields{
			"transaction_id":   id,
			"user_id":          actor.ID,
			"last_modified_by": conflict.LastModifiedBy,
		}).Warn("Concurrent edit detected")
	}
	s.decorateNames(ctx, &updated, actor)
	s.committed(ctx, Mutation{Kind: domain.ChangeUpdate, Actor: actor.ref(), Transaction: updated, Conflict: conflict})
	return &MutationResult{Transaction: updated, Conflict: conflict}, nil
}

// Delete soft-deletes a live transaction. The row and its history are kept.
func (s *TransactionService) Delete(ctx context.Context, actor Actor, id uint) (*domain.Transaction, error) {
	now := s.now()
	var deleted domain.Transaction
	err := s.store.Atomic(ctx, func(st *store.Store) error {
		current, err := st.FindActiveTransaction(ctx, id)
		if err != nil {
			return err
		}
		deleted = current
		deleted.IsDeleted = true
		deleted.LastModifiedBy = actor.ID
		deleted.UpdatedAt = now
		if err := st.SaveTransaction(ctx, &deleted); err != nil {
			return err
		}
		if err := appendHistory(ctx, st, domain.ChangeDelete, actor.ID, &current, &deleted, now); err != nil {
			return err
		}
		msg := fmt.Sprintf("Transaction %q was deleted by %s", current.Title, actor.displayName())
		return notifyOthers(ctx, st, actor.ID, id, msg, now)
	})
	if err != nil {
		return nil, s.failed("delete", actor, id, err)
	}
	s.committed(ctx, Mutation{Kind: domain.ChangeDelete, Actor: actor.ref(), Transaction: deleted})
	return &deleted, nil
}

func (a Actor) ref() ActorRef {
	return ActorRef{ID: a.ID, Name: a.Name}
}

// failed logs a rolled back mutation and maps store errors to service errors
func (s *TransactionService) failed(op string, actor Actor, id uint, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		metrics.Mutations.WithLabelValues(op, "not_found").Inc()
		return ErrNotFound
	}
	metrics.Mutations.WithLabelValues(op, "error").Inc()
	s.log.WithFields(logrus.Fields{
		"op":             op,
		"transaction_id": id,
		"user_id":        actor.ID,
		"error":          err.Error(),
	}).Error("Transaction mutation rolled back")
	return fmt.Errorf("%s transaction: %w", op, err)
}

// committed runs every post-commit hook in order; failures never reach the caller
func (s *TransactionService) committed(ctx context.Context, m Mutation) {
	metrics.Mutations.WithLabelValues(string(m.Kind), "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"op":             m.Kind,
		"transaction_id": m.Transaction.ID,
		"user_id":        m.Actor.ID,
		"conflict":       m.Conflict != nil,
	}).Info("Transaction mutation committed")
	for _, h := range s.hooks {
		if err := h(ctx, m); err != nil {
			s.log.WithFields(logrus.Fields{
				"op":             m.Kind,
				"transaction_id": m.Transaction.ID,
				"error":          err.Error(),
			}).Warn("Post-commit hook failed")
		}
	}
}

// decorateNames fills creator and modifier names for responses, best effort
func (s *TransactionService) decorateNames(ctx context.Context, t *domain.Transaction, actor Actor) {
	t.ModifiedByName = actor.Name
	if t.CreatedBy == actor.ID {
		t.CreatedByName = actor.Name
		return
	}
	if u, err := s.store.ResolveUser(ctx, t.CreatedBy); err == nil {
		t.CreatedByName = u.Name
	}
}

func (s *TransactionService) invalidateCache(ctx context.Context, m Mutation) error {
	var errs []error
	if err := s.cache.Delete(ctx, ItemKey(m.Transaction.ID)); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.cache.InvalidateIndex(ctx, ListIndexKey); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BroadcastHook emits the realtime event matching a mutation
func BroadcastHook(b Broadcaster) PostCommitHook {
	return func(_ context.Context, m Mutation) error {
		switch m.Kind {
		case domain.ChangeCreate:
			b.Broadcast(EventCreated, CreatedEvent{Transaction: m.Transaction, By: m.Actor})
		case domain.ChangeUpdate:
			b.Broadcast(EventUpdated, UpdatedEvent{Transaction: m.Transaction, By: m.Actor, Conflict: m.Conflict})
		case domain.ChangeDelete:
			b.Broadcast(EventDeleted, DeletedEvent{TransactionID: m.Transaction.ID, TransactionTitle: m.Transaction.Title, By: m.Actor})
		}
		return nil
	}
}

// CreatedEvent is the payload of transaction:created
type CreatedEvent struct {
	Transaction domain.Transaction `json:"transaction"`
	By          ActorRef           `json:"by"`
}

// UpdatedEvent is the payload of transaction:updated
type UpdatedEvent struct {
	Transaction domain.Transaction `json:"transaction"`
	By          ActorRef           `json:"by"`
	Conflict    *Conflict          `json:"conflict,omitempty"`
}

// DeletedEvent is the payload of transaction:deleted
type DeletedEvent struct {
	TransactionID    uint     `json:"transactionId"`
	TransactionTitle string   `json:"transactionTitle"`
	By               ActorRef `json:"by"`
}

func appendHistory(ctx context.Context, st *store.Store, kind domain.ChangeType, actor uint, prev, next *domain.Transaction, at time.Time) error {
	entry := domain.TransactionHistory{
		TransactionID: next.ID,
		ModifiedBy:    actor,
		ChangeType:    kind,
		ModifiedAt:    at,
	}
	var err error
	if prev != nil {
		if entry.PreviousState, err = json.Marshal(prev); err != nil {
			return err
		}
	}
	if entry.NewState, err = json.Marshal(next); err != nil {
		return err
	}
	return st.AppendHistory(ctx, &entry)
}

func notifyOthers(ctx context.Context, st *store.Store, actor, txID uint, msg string, at time.Time) error {
	ids, err := st.OtherUserIDs(ctx, actor)
	if err != nil {
		return err
	}
	ns := make([]domain.Notification, 0, len(ids))
	for _, uid := range ids {
		ns = append(ns, domain.Notification{UserID: uid, TransactionID: txID, Message: msg, CreatedAt: at})
	}
	return st.CreateNotifications(ctx, ns)
}

func applyUpdate(t domain.Transaction, in UpdateInput) domain.Transaction {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Amount != nil {
		t.Amount = *in.Amount
	}
	if in.Category != nil {
		t.Category = *in.Category
	}
	if in.Type != nil {
		t.Type = *in.Type
	}
	if in.Date != nil {
		t.TransactionDate = in.Date.UTC()
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	return t
}

func validateCreate(in CreateInput) error {
	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case !in.Type.Valid():
		return fmt.Errorf("%w: type must be income or expense", ErrInvalidInput)
	case in.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	case in.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	return nil
}

func validateUpdate(in UpdateInput) error {
	switch {
	case in.Title != nil && *in.Title == "":
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	case in.Type != nil && !in.Type.Valid():
		return fmt.Errorf("%w: type must be income or expense", ErrInvalidInput)
	case in.Amount != nil && in.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	case in.Date != nil && in.Date.IsZero():
		return fmt.Errorf("%w: date must not be empty", ErrInvalidInput)
	}
	return nil
}

// ItemKey is the cache key of a single transaction
func ItemKey(id uint) string {
	return itemKeyPrefix + strconv.FormatUint(uint64(id), 10)
}
