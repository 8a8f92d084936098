package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finance_tracker/internal/db/dbtest"
	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type event struct {
	name    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Broadcast(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name, payload})
}

func (r *recorder) last() event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	svc   *TransactionService
	bc    *recorder
	clock *clock
	users []domain.User
	logs  *test.Hook
}

func newFixture(t *testing.T, dev bool) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	users := dbtest.SeedUsers(t, gdb, "Alice", "Bob", "Carol")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := &fixture{
		db:    gdb,
		mr:    mr,
		bc:    &recorder{},
		clock: &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		users: users,
		logs:  hook,
	}
	f.svc = NewTransactionService(store.New(gdb), Options{
		Cache:            utils.NewCache(rdb),
		Broadcaster:      f.bc,
		Logger:           logger,
		BypassCacheReads: dev,
		Now:              f.clock.now,
	})
	return f
}

func (f *fixture) actor(i int) Actor {
	return Actor{ID: f.users[i].ID, Name: f.users[i].FullName}
}

func groceries() CreateInput {
	return CreateInput{
		Title:       "Groceries",
		Amount:      decimal.RequireFromString("42.50"),
		Category:    "food",
		Type:        domain.Expense,
		Date:        time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		Description: "weekly shop",
	}
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestCreateNotifiesEveryoneButTheActor(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := f.actor(0)

	res, err := f.svc.Create(ctx, alice, groceries())
	require.NoError(t, err)
	id := res.Transaction.ID
	require.NotZero(t, id)
	assert.Nil(t, res.Conflict)

	assert.EqualValues(t, 1, f.count(t, &domain.TransactionHistory{}, "transaction_id = ? AND change_type = ?", id, domain.ChangeCreate))
	assert.EqualValues(t, 2, f.count(t, &domain.Notification{}, "transaction_id = ?", id))
	assert.EqualValues(t, 0, f.count(t, &domain.Notification{}, "user_id = ?", alice.ID))

	var n domain.Notification
	require.NoError(t, f.db.Where("user_id = ?", f.users[1].ID).First(&n).Error)
	assert.Equal(t, `New transaction "Groceries" was created by Alice`, n.Message)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "null", string(nullIfEmpty(history[0].PreviousState)))

	ev := f.bc.last()
	assert.Equal(t, EventCreated, ev.name)
	created := ev.payload.(CreatedEvent)
	assert.Equal(t, id, created.Transaction.ID)
	assert.Equal(t, ActorRef{ID: alice.ID, Name: "Alice"}, created.By)
}

func nullIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	in := groceries()

	res, err := f.svc.Create(ctx, f.actor(0), in)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Title, got.Title)
	assert.True(t, in.Amount.Equal(got.Amount))
	assert.Equal(t, in.Category, got.Category)
	assert.Equal(t, in.Type, got.Type)
	assert.True(t, in.Date.Equal(got.TransactionDate))
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, "Alice", got.CreatedByName)
	require.Len(t, got.History, 1)

	// second read is served from the cache and decodes to the same payload
	again, err := f.svc.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Title, again.Title)
	assert.True(t, got.Amount.Equal(again.Amount))
	assert.True(t, f.mr.Exists(ItemKey(res.Transaction.ID)))
}

func TestUpdateWithPartialFieldsKeepsTheRest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)
	id := res.Transaction.ID

	f.clock.advance(time.Minute)
	upd, err := f.svc.Update(ctx, f.actor(0), id, UpdateInput{Amount: ptr(decimal.RequireFromString("50"))})
	require.NoError(t, err)
	assert.Nil(t, upd.Conflict)

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50").Equal(got.Amount))
	assert.Equal(t, "Groceries", got.Title)
	assert.Equal(t, "food", got.Category)
	assert.Equal(t, "weekly shop", got.Description)
	assert.Equal(t, domain.Expense, got.Type)
	require.Len(t, got.History, 2)
	assert.Equal(t, domain.ChangeUpdate, got.History[0].ChangeType)
	assert.NotEmpty(t, got.History[0].PreviousState)
}

func TestUpdateConflictWindow(t *testing.T) {
	cases := []struct {
		name         string
		firstEditor  int
		gap          time.Duration
		wantConflict bool
	}{
		{"other user two seconds ago", 1, 2 * time.Second, true},
		{"other user ten seconds ago", 1, 10 * time.Second, false},
		{"same user two seconds ago", 0, 2 * time.Second, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, false)
			ctx := context.Background()
			res, err := f.svc.Create(ctx, f.actor(2), groceries())
			require.NoError(t, err)
			id := res.Transaction.ID

			f.clock.advance(time.Minute)
			_, err = f.svc.Update(ctx, f.actor(c.firstEditor), id, UpdateInput{Title: ptr("Groceries (Bob)")})
			require.NoError(t, err)

			f.clock.advance(c.gap)
			upd, err := f.svc.Update(ctx, f.actor(0), id, UpdateInput{Title: ptr("Groceries (Alice)")})
			require.NoError(t, err)
			assert.Equal(t, "Groceries (Alice)", upd.Transaction.Title, "last writer wins")

			ev := f.bc.last()
			require.Equal(t, EventUpdated, ev.name)
			payload := ev.payload.(UpdatedEvent)
			if !c.wantConflict {
				assert.Nil(t, upd.Conflict)
				assert.Nil(t, payload.Conflict)
				return
			}
			require.NotNil(t, upd.Conflict)
			assert.True(t, upd.Conflict.IsConflict)
			assert.Equal(t, f.users[1].ID, upd.Conflict.LastModifiedBy)
			assert.Equal(t, "Bob", upd.Conflict.LastModifiedByName)
			assert.True(t, f.clock.t.Add(-c.gap).Equal(upd.Conflict.LastModifiedAt))
			assert.Equal(t, upd.Conflict, payload.Conflict)
		})
	}
}

func TestDeleteIsSoft(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)
	id := res.Transaction.ID

	// warm the caches so the delete has something to invalidate
	_, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	list, err := f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)

	f.clock.advance(time.Minute)
	deleted, err := f.svc.Delete(ctx, f.actor(1), id)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	ev := f.bc.last()
	assert.Equal(t, EventDeleted, ev.name)
	assert.Equal(t, DeletedEvent{TransactionID: id, TransactionTitle: "Groceries", By: ActorRef{ID: f.users[1].ID, Name: "Bob"}}, ev.payload)

	_, err = f.svc.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err = f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list.Transactions)
	assert.Zero(t, list.Pagination.TotalCount)

	_, err = f.svc.Update(ctx, f.actor(0), id, UpdateInput{Title: ptr("again")})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Delete(ctx, f.actor(0), id)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ChangeDelete, history[0].ChangeType)
	assert.Equal(t, domain.ChangeCreate, history[1].ChangeType)

	assert.EqualValues(t, 1, f.count(t, &domain.Transaction{}, "id = ?", id), "row is never removed")
	assert.EqualValues(t, 2, f.count(t, &domain.Notification{}, "transaction_id = ? AND message LIKE ?", id, "%deleted by Bob"))

	_, err = f.svc.History(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListServesStaleCacheUntilTTL(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)

	first, err := f.svc.List(ctx, ListQuery{Search: "groc"})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 1)

	// change the row behind the pipeline's back
	require.NoError(t, f.db.Model(&domain.Transaction{}).Where("id = ?", res.Transaction.ID).Update("title", "Groceries changed").Error)

	f.mr.FastForward(4*time.Minute + 59*time.Second)
	stale, err := f.svc.List(ctx, ListQuery{Search: "groc"})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", stale.Transactions[0].Title)

	f.mr.FastForward(2 * time.Second)
	fresh, err := f.svc.List(ctx, ListQuery{Search: "groc"})
	require.NoError(t, err)
	assert.Equal(t, "Groceries changed", fresh.Transactions[0].Title)
}

func TestListDevelopmentModeIgnoresCacheHits(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)

	_, err = f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.Transaction{}).Where("id = ?", res.Transaction.ID).Update("title", "Changed").Error)

	got, err := f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Transactions[0].Title)
	assert.True(t, f.mr.Exists(ListQuery{}.Normalize().CacheKey()), "results are still cached")
}

func TestWritesInvalidateListCache(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)

	q := ListQuery{Page: 1, Limit: 1}
	page, err := f.svc.List(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Pagination.TotalCount)
	_, err = f.svc.List(ctx, ListQuery{Type: "expense"})
	require.NoError(t, err)
	members, err := f.mr.SMembers(ListIndexKey)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	in := groceries()
	in.Title = "Fuel"
	_, err = f.svc.Create(ctx, f.actor(1), in)
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(ListIndexKey))

	page, err = f.svc.List(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Pagination.TotalCount)
	assert.Equal(t, 2, page.Pagination.TotalPages)
}

func TestFailedWriteRollsBackEverything(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_notifications", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "notifications" {
			_ = tx.AddError(errors.New("notifications unavailable"))
		}
	}))

	_, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.EqualValues(t, 0, f.count(t, &domain.Transaction{}, "1 = 1"))
	assert.EqualValues(t, 0, f.count(t, &domain.TransactionHistory{}, "1 = 1"))
	assert.EqualValues(t, 0, f.count(t, &domain.Notification{}, "1 = 1"))
	assert.Empty(t, f.bc.events, "nothing is broadcast for a rolled back write")
}

func TestCacheOutageNeverAbortsMutations(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.mr.Close()

	res, err := f.svc.Create(ctx, f.actor(0), groceries())
	require.NoError(t, err)
	assert.Equal(t, EventCreated, f.bc.last().name)

	list, err := f.svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, list.Transactions, 1)

	got, err := f.svc.Get(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Title)

	var warned bool
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "cache failures are logged")
}

func TestValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	bad := groceries()
	bad.Title = ""
	_, err := f.svc.Create(ctx, f.actor(0), bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad = groceries()
	bad.Type = "transfer"
	_, err = f.svc.Create(ctx, f.actor(0), bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Update(ctx, f.actor(0), 1, UpdateInput{Amount: ptr(decimal.NewFromInt(-1))})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWithoutBroadcaster(t *testing.T) {
	gdb := dbtest.Open(t)
	users := dbtest.SeedUsers(t, gdb, "Alice")
	svc := NewTransactionService(store.New(gdb), Options{})
	_, err := svc.Create(context.Background(), Actor{ID: users[0].ID}, groceries())
	require.NoError(t, err)
}

func TestListQueryNormalize(t *testing.T) {
	q := ListQuery{SortBy: "bogus", SortOrder: "asc", Page: -3, Limit: 500}.Normalize()
	assert.Equal(t, "transaction_date", q.SortBy)
	assert.Equal(t, "ASC", q.SortOrder)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, MaxPageSize, q.Limit)
	assert.Equal(t, "transactions:::::::transaction_date:ASC:1:100", q.CacheKey())
}

func TestListCacheKeysDoNotCollide(t *testing.T) {
	a := ListQuery{Search: "rent:home", Category: "utilities"}.Normalize()
	b := ListQuery{Search: "rent", Category: "home:utilities"}.Normalize()
	c := ListQuery{Search: `rent\`, Category: "home"}.Normalize()
	assert.NotEqual(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, b.CacheKey(), c.CacheKey())
	assert.Equal(t, `transactions:rent\:home:utilities::::transaction_date:DESC:1:20`, a.CacheKey())

	f := newFixture(t, false)
	ctx := context.Background()
	in := groceries()
	in.Title, in.Category, in.Description = "rent", "home:utilities", ""
	_, err := f.svc.Create(ctx, f.actor(0), in)
	require.NoError(t, err)

	empty, err := f.svc.List(ctx, ListQuery{Search: "rent:home", Category: "utilities"})
	require.NoError(t, err)
	assert.Empty(t, empty.Transactions)

	got, err := f.svc.List(ctx, ListQuery{Search: "rent", Category: "home:utilities"})
	require.NoError(t, err)
	assert.Len(t, got.Transactions, 1)
}
