package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"friends-go/internal/models"
	"friends-go/internal/storage"
	"friends-go/internal/testutil"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event models.NotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) Events() []models.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.NotificationEvent(nil), d.events...)
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, models.NotificationEvent) {
	panic("broker unavailable")
}

type fakeAccounts struct {
	known map[uuid.UUID]models.Account
	err   error
}

func (f *fakeAccounts) Resolve(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uuid.UUID]models.Account)
	for _, id := range ids {
		if acc, ok := f.known[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

// countingRepo records writes so tests can assert none happened.
type countingRepo struct {
	storage.RelationshipRepository
	writes *atomic.Int64
}

func newCountingRepo(inner storage.RelationshipRepository) *countingRepo {
	return &countingRepo{RelationshipRepository: inner, writes: &atomic.Int64{}}
}

func (r *countingRepo) Create(ctx context.Context, rel *models.Relationship) error {
	r.writes.Add(1)
	return r.RelationshipRepository.Create(ctx, rel)
}

func (r *countingRepo) Update(ctx context.Context, rel *models.Relationship, expected models.RelationshipStatus) error {
	r.writes.Add(1)
	return r.RelationshipRepository.Update(ctx, rel, expected)
}

func (r *countingRepo) WithTx(ctx context.Context, fn func(storage.RelationshipRepository) error) error {
	return r.RelationshipRepository.WithTx(ctx, func(tx storage.RelationshipRepository) error {
		return fn(&countingRepo{RelationshipRepository: tx, writes: r.writes})
	})
}

type fixture struct {
	svc        RelationshipService
	repo       storage.RelationshipRepository
	dispatcher *recordingDispatcher
	accounts   *fakeAccounts
}

func newFixture(t *testing.T, opts ServiceOptions) *fixture {
	t.Helper()
	repo := testutil.SetupTestRepository(t)
	dispatcher := &recordingDispatcher{}
	accounts := &fakeAccounts{known: map[uuid.UUID]models.Account{}}
	svc := NewRelationshipService(repo, dispatcher, accounts, zap.NewNop(), opts)
	return &fixture{svc: svc, repo: repo, dispatcher: dispatcher, accounts: accounts}
}

func (f *fixture) status(t *testing.T, viewer, other uuid.UUID) models.DerivedStatus {
	t.Helper()
	dto, err := f.svc.GetRelationshipStatus(context.Background(), viewer, other)
	require.NoError(t, err)
	return dto.StatusCode
}

func TestSendFriendRequestCreatesPending(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	rel, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, a, rel.InitiatorID)
	assert.Equal(t, b, rel.TargetID)
	assert.Equal(t, models.RelationshipStatusPending, rel.Status)
	assert.Nil(t, rel.UpdatedAt)

	stored, err := f.repo.FindByPair(ctx, b, a)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rel.ID, stored.ID)

	assert.Empty(t, f.dispatcher.Events(), "sending a request emits nothing by default")
}

func TestSendFriendRequestToSelf(t *testing.T) {
	repo := newCountingRepo(testutil.SetupTestRepository(t))
	svc := NewRelationshipService(repo, nil, nil, zap.NewNop(), ServiceOptions{})
	a, b := uuid.New(), uuid.New()

	_, err := svc.SendFriendRequest(context.Background(), a, a)
	assert.ErrorIs(t, err, ErrSelfRelationship)
	assert.Zero(t, repo.writes.Load())

	_, err = svc.SendFriendRequest(context.Background(), a, b)
	require.NoError(t, err)
	assert.EqualValues(t, 1, repo.writes.Load())
}

func TestSendFriendRequestConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("pending either direction", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a, b := uuid.New(), uuid.New()
		_, err := f.svc.SendFriendRequest(ctx, a, b)
		require.NoError(t, err)

		for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
			_, err = f.svc.SendFriendRequest(ctx, pair[0], pair[1])
			var exists *AlreadyExistsError
			require.ErrorAs(t, err, &exists)
			assert.Equal(t, ReasonPending, exists.Reason)
			assert.ErrorIs(t, err, ErrAlreadyExists)
		}
	})

	t.Run("already friends", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a, b := uuid.New(), uuid.New()
		rel, err := f.svc.SendFriendRequest(ctx, a, b)
		require.NoError(t, err)
		_, err = f.svc.AcceptFriendRequest(ctx, rel.ID, b)
		require.NoError(t, err)

		_, err = f.svc.SendFriendRequest(ctx, b, a)
		var exists *AlreadyExistsError
		require.ErrorAs(t, err, &exists)
		assert.Equal(t, ReasonAlreadyFriends, exists.Reason)
	})

	t.Run("blocked by either side", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a, b := uuid.New(), uuid.New()
		_, err := f.svc.BlockUser(ctx, a, b)
		require.NoError(t, err)

		for _, pair := range [][2]uuid.UUID{{b, a}, {a, b}} {
			_, err = f.svc.SendFriendRequest(ctx, pair[0], pair[1])
			var exists *AlreadyExistsError
			require.ErrorAs(t, err, &exists)
			assert.Equal(t, ReasonBlocked, exists.Reason)
		}
	})
}

func TestSendFriendRequestReusesDeclinedRecord(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	first, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.DeclineFriendRequest(ctx, first.ID, b)
	require.NoError(t, err)

	// The declined party may now ask the other way round.
	second, err := f.svc.SendFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, b, second.InitiatorID)
	assert.Equal(t, a, second.TargetID)
	assert.Equal(t, models.RelationshipStatusPending, second.Status)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	require.NotNil(t, second.UpdatedAt)

	assert.Equal(t, models.DerivedStatusPendingIncoming, f.status(t, a, b))
	assert.Equal(t, models.DerivedStatusPendingOutgoing, f.status(t, b, a))
}

func TestSendFriendRequestReusesSubscribedRecord(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	sub, err := f.svc.SubscribeToUser(ctx, a, b)
	require.NoError(t, err)

	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, req.ID)
	assert.Equal(t, models.RelationshipStatusPending, req.Status)
}

func TestSendFriendRequestNotifyOption(t *testing.T) {
	f := newFixture(t, ServiceOptions{NotifyOnRequest: true})
	a, b := uuid.New(), uuid.New()

	_, err := f.svc.SendFriendRequest(context.Background(), a, b)
	require.NoError(t, err)

	events := f.dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationFriendRequest, events[0].Type)
	assert.Equal(t, b, events[0].RecipientID)
	assert.Equal(t, a, events[0].SenderID)
}

func TestAcceptFriendRequest(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	accepted, err := f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.UpdatedAt)

	assert.Equal(t, models.DerivedStatusFriend, f.status(t, a, b))
	assert.Equal(t, models.DerivedStatusFriend, f.status(t, b, a))

	events := f.dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationFriendRequestAccepted, events[0].Type)
	assert.Equal(t, a, events[0].RecipientID)
	assert.Equal(t, b, events[0].SenderID)
}

func TestAcceptFriendRequestRules(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	_, err = f.svc.AcceptFriendRequest(ctx, uuid.New(), b)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, a)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, models.DerivedStatusPendingOutgoing, f.status(t, a, b), "failed accept leaves status unchanged")

	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)

	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonAlreadyProcessed, invalid.Reason)

	_, err = f.svc.DeclineFriendRequest(ctx, req.ID, b)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Len(t, f.dispatcher.Events(), 1, "only the successful accept emits")
}

func TestDeclineFriendRequest(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	_, err = f.svc.DeclineFriendRequest(ctx, req.ID, a)
	assert.ErrorIs(t, err, ErrForbidden)

	declined, err := f.svc.DeclineFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipStatusDeclined, declined.Status)
	assert.Equal(t, models.DerivedStatusNone, f.status(t, a, b))

	dto, err := f.svc.GetRelationshipStatus(ctx, a, b)
	require.NoError(t, err)
	require.NotNil(t, dto.Relationship, "declined record is still reported")
	assert.Equal(t, req.ID, dto.Relationship.ID)
	assert.Equal(t, models.RelationshipStatusDeclined, dto.Relationship.Status)

	events := f.dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationFriendRequestDeclined, events[0].Type)
	assert.Equal(t, a, events[0].RecipientID)
	assert.Equal(t, b, events[0].SenderID)
}

func TestBlockUserCreatesOrReassigns(t *testing.T) {
	ctx := context.Background()

	t.Run("no record", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a, b := uuid.New(), uuid.New()
		rel, err := f.svc.BlockUser(ctx, a, b)
		require.NoError(t, err)
		assert.Equal(t, a, rel.InitiatorID)
		assert.Equal(t, models.RelationshipStatusBlocked, rel.Status)
		assert.Equal(t, models.DerivedStatusBlocked, f.status(t, a, b))
		assert.Equal(t, models.DerivedStatusBlocked, f.status(t, b, a))
	})

	t.Run("flips direction of existing record", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a, b := uuid.New(), uuid.New()
		req, err := f.svc.SendFriendRequest(ctx, a, b)
		require.NoError(t, err)
		_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
		require.NoError(t, err)

		rel, err := f.svc.BlockUser(ctx, b, a)
		require.NoError(t, err)
		assert.Equal(t, req.ID, rel.ID)
		assert.Equal(t, b, rel.InitiatorID)
		assert.Equal(t, a, rel.TargetID)

		ids, err := f.svc.GetBlockedUserIDs(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a}, ids)

		ids, err = f.svc.GetBlockedUserIDs(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("self", func(t *testing.T) {
		f := newFixture(t, ServiceOptions{})
		a := uuid.New()
		_, err := f.svc.BlockUser(ctx, a, a)
		assert.ErrorIs(t, err, ErrSelfRelationship)
		assert.Empty(t, f.dispatcher.Events())
	})
}

func TestBlockThenUnblock(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := f.svc.BlockUser(ctx, a, b)
	require.NoError(t, err)

	// Only the blocker can lift the block.
	err = f.svc.UnblockUser(ctx, b, a)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.UnblockUser(ctx, a, b))
	assert.Equal(t, models.DerivedStatusNone, f.status(t, a, b))

	rel, err := f.repo.FindByPair(ctx, a, b)
	require.NoError(t, err)
	assert.Nil(t, rel)

	events := f.dispatcher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.NotificationFriendBlocked, events[0].Type)
	assert.Equal(t, b, events[0].RecipientID)
	assert.Equal(t, a, events[0].SenderID)
	assert.Equal(t, models.NotificationFriendUnblocked, events[1].Type)
	assert.Equal(t, b, events[1].RecipientID)
	assert.Equal(t, a, events[1].SenderID)
}

func TestUnblockRequiresBlockedStatus(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	_, err := f.svc.SubscribeToUser(ctx, a, b)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.UnblockUser(ctx, a, b), ErrNotFound)
}

func TestSubscribeToUser(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := f.svc.SubscribeToUser(ctx, a, a)
	assert.ErrorIs(t, err, ErrSelfRelationship)

	rel, err := f.svc.SubscribeToUser(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipStatusSubscribed, rel.Status)
	assert.Equal(t, models.DerivedStatusSubscribed, f.status(t, a, b))
	assert.Equal(t, models.DerivedStatusSubscribed, f.status(t, b, a))

	_, err = f.svc.SubscribeToUser(ctx, b, a)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	events := f.dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationFriendSubscribed, events[0].Type)
	assert.Equal(t, b, events[0].RecipientID)
	assert.Equal(t, a, events[0].SenderID)
}

func TestRequestAcceptDeleteRoundTrip(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)

	// Either side may remove the friendship.
	require.NoError(t, f.svc.DeleteFriendship(ctx, b, a))
	assert.Equal(t, models.DerivedStatusNone, f.status(t, a, b))

	rel, err := f.repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, rel)

	assert.ErrorIs(t, f.svc.DeleteFriendship(ctx, a, b), ErrNotFound)
}

func TestDeleteFriendshipIgnoresStatus(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	_, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteFriendship(ctx, a, b))
	assert.Equal(t, models.DerivedStatusNone, f.status(t, b, a))
}

func TestPendingDirectionalStatus(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	a, b := uuid.New(), uuid.New()
	_, err := f.svc.SendFriendRequest(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, models.DerivedStatusPendingOutgoing, f.status(t, a, b))
	assert.Equal(t, models.DerivedStatusPendingIncoming, f.status(t, b, a))

	dto, err := f.svc.GetRelationshipStatus(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, a, dto.UserID)
	require.NotNil(t, dto.Relationship)
}

func TestDispatcherFailureDoesNotAffectResult(t *testing.T) {
	repo := testutil.SetupTestRepository(t)
	svc := NewRelationshipService(repo, panickingDispatcher{}, nil, zap.NewNop(), ServiceOptions{NotifyOnRequest: true})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	req, err := svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	accepted, err := svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipStatusAccepted, accepted.Status)

	stored, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipStatusAccepted, stored.Status)

	_, err = svc.BlockUser(ctx, a, b)
	require.NoError(t, err)
	require.NoError(t, svc.UnblockUser(ctx, a, b))
	_, err = svc.SubscribeToUser(ctx, a, b)
	require.NoError(t, err)
}

func TestListFriendsEnrichesAndDropsMissing(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	viewer := uuid.New()

	var known []uuid.UUID
	for i := 0; i < 3; i++ {
		other := uuid.New()
		req, err := f.svc.SendFriendRequest(ctx, other, viewer)
		require.NoError(t, err)
		_, err = f.svc.AcceptFriendRequest(ctx, req.ID, viewer)
		require.NoError(t, err)
		if i < 2 {
			f.accounts.known[other] = models.Account{ID: other, Username: "user" + other.String()[:4]}
			known = append(known, other)
		}
	}

	page, err := f.svc.ListFriends(ctx, viewer, models.PageRequest{Page: 0, Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.TotalElements, "total comes from the store")
	require.Len(t, page.Content, 2)
	for _, dto := range page.Content {
		assert.Contains(t, known, dto.Account.ID)
		assert.Equal(t, models.RelationshipStatusAccepted, dto.Status)
	}

	count, err := f.svc.GetFriendCount(ctx, viewer)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	ids, err := f.svc.GetFriendIDs(ctx, viewer)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.NotContains(t, ids, viewer)
}

func TestListFriendsSurvivesLookupFailure(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	req, err := f.svc.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, req.ID, b)
	require.NoError(t, err)

	f.accounts.err = errors.New("account service down")
	page, err := f.svc.ListFriends(ctx, a, models.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Content)
	assert.EqualValues(t, 1, page.TotalElements)
	assert.Equal(t, models.DefaultPageSize, page.Size)
}

func TestListIncomingRequests(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	viewer, sender, other := uuid.New(), uuid.New(), uuid.New()
	f.accounts.known[sender] = models.Account{ID: sender, Username: "sender"}
	f.accounts.known[other] = models.Account{ID: other, Username: "other"}

	_, err := f.svc.SendFriendRequest(ctx, sender, viewer)
	require.NoError(t, err)
	_, err = f.svc.SendFriendRequest(ctx, viewer, other)
	require.NoError(t, err)

	page, err := f.svc.ListIncomingRequests(ctx, viewer, models.PageRequest{Size: 5})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, sender, page.Content[0].Account.ID)
	assert.Equal(t, models.RelationshipStatusPending, page.Content[0].Status)
}

func TestNowIsInjectable(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, ServiceOptions{Now: func() time.Time { return fixed }})

	rel, err := f.svc.BlockUser(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, rel.CreatedAt.Equal(fixed))

	events := f.dispatcher.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(fixed))
}

func TestConcurrentRequestsForSamePair(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
		wg.Add(1)
		go func(i int, from, to uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.SendFriendRequest(ctx, from, to)
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, succeeded)
}
