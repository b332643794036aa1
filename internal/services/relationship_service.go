package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"friends-go/internal/models"
	"friends-go/internal/storage"
)

// EventDispatcher hands a notification off for asynchronous publication.
// Implementations must return promptly and never surface delivery failures.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event models.NotificationEvent)
}

// AccountLookup resolves user ids to profiles. Missing ids have no entry in the result.
type AccountLookup interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error)
}

// RelationshipService defines the interface for relationship operations.
// The viewer or caller id is always the authenticated user.
type RelationshipService interface {
	SendFriendRequest(ctx context.Context, initiatorID, targetID uuid.UUID) (*models.Relationship, error)
	AcceptFriendRequest(ctx context.Context, requestID, callerID uuid.UUID) (*models.Relationship, error)
	DeclineFriendRequest(ctx context.Context, requestID, callerID uuid.UUID) (*models.Relationship, error)
	BlockUser(ctx context.Context, callerID, targetID uuid.UUID) (*models.Relationship, error)
	UnblockUser(ctx context.Context, callerID, targetID uuid.UUID) error
	SubscribeToUser(ctx context.Context, callerID, targetID uuid.UUID) (*models.Relationship, error)
	DeleteFriendship(ctx context.Context, callerID, otherID uuid.UUID) error

	GetRelationshipStatus(ctx context.Context, viewerID, otherID uuid.UUID) (*models.RelationshipStatusDTO, error)
	ListFriends(ctx context.Context, viewerID uuid.UUID, page models.PageRequest) (*models.Page[models.FriendDTO], error)
	ListIncomingRequests(ctx context.Context, viewerID uuid.UUID, page models.PageRequest) (*models.Page[models.FriendDTO], error)
	GetFriendCount(ctx context.Context, viewerID uuid.UUID) (int64, error)
	GetFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	GetBlockedUserIDs(ctx context.Context, viewerID uuid.UUID) ([]uuid.UUID, error)
}

// ServiceOptions holds the optional knobs of the relationship service.
type ServiceOptions struct {
	// NotifyOnRequest emits FRIEND_REQUEST to the target when a request is sent.
	NotifyOnRequest bool
	// Now overrides the clock; nil means time.Now in UTC.
	Now func() time.Time
}

type relationshipService struct {
	repo       storage.RelationshipRepository
	dispatcher EventDispatcher
	accounts   AccountLookup
	logger     *zap.Logger
	opts       ServiceOptions
	now        func() time.Time
}

// NewRelationshipService creates a new RelationshipService instance.
// dispatcher and accounts may be nil.
func NewRelationshipService(
	repo storage.RelationshipRepository,
	dispatcher EventDispatcher,
	accounts AccountLookup,
	logger *zap.Logger,
	opts ServiceOptions,
) RelationshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &relationshipService{
		repo:       repo,
		dispatcher: dispatcher,
		accounts:   accounts,
		logger:     logger.Named("relationships"),
		opts:       opts,
		now:        now,
	}
}

// SendFriendRequest creates a Pending record from initiatorID to targetID.
// A Declined or Subscribed record for the pair is reused in place.
func (s *relationshipService) SendFriendRequest(ctx context.Context, initiatorID, targetID uuid.UUID) (*models.Relationship, error) {
	log := s.logger.With(zap.Stringer("initiator", initiatorID), zap.Stringer("target", targetID))
	log.Debug("sending friend request")

	if initiatorID == targetID {
		log.Warn("friend request to self rejected")
		return nil, ErrSelfRelationship
	}

	var result *models.Relationship
	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		existing, err := repo.FindByPair(ctx, initiatorID, targetID)
		if err != nil {
			return err
		}
		if conflict := creationConflict(existing); conflict != nil {
			return conflict
		}

		now := s.now()
		if existing != nil {
			previous := existing.Status
			existing.AssignRoles(initiatorID, targetID)
			existing.Status = models.RelationshipStatusPending
			existing.UpdatedAt = &now
			if err := repo.Update(ctx, existing, previous); err != nil {
				return err
			}
			result = existing
			return nil
		}

		rel := models.NewRelationship(initiatorID, targetID, models.RelationshipStatusPending, now)
		if err := repo.Create(ctx, rel); err != nil {
			return err
		}
		result = rel
		return nil
	})
	if err != nil {
		return nil, s.reject(log, "send friend request", err, invalidState(ReasonConcurrent))
	}

	log.Info("friend request sent", zap.Stringer("relationship_id", result.ID))
	if s.opts.NotifyOnRequest {
		s.notify(ctx, models.NotificationFriendRequest, targetID, initiatorID, "sent you a friend request")
	}
	return result, nil
}

// AcceptFriendRequest moves a Pending request to Accepted. Only the target may accept.
func (s *relationshipService) AcceptFriendRequest(ctx context.Context, requestID, callerID uuid.UUID) (*models.Relationship, error) {
	rel, err := s.answerRequest(ctx, requestID, callerID, models.RelationshipStatusAccepted)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, models.NotificationFriendRequestAccepted, rel.InitiatorID, callerID, "accepted your friend request")
	return rel, nil
}

// DeclineFriendRequest moves a Pending request to Declined. Only the target may decline.
func (s *relationshipService) DeclineFriendRequest(ctx context.Context, requestID, callerID uuid.UUID) (*models.Relationship, error) {
	rel, err := s.answerRequest(ctx, requestID, callerID, models.RelationshipStatusDeclined)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, models.NotificationFriendRequestDeclined, rel.InitiatorID, callerID, "declined your friend request")
	return rel, nil
}

func (s *relationshipService) answerRequest(ctx context.Context, requestID, callerID uuid.UUID, status models.RelationshipStatus) (*models.Relationship, error) {
	log := s.logger.With(zap.Stringer("request_id", requestID), zap.Stringer("caller", callerID), zap.String("status", string(status)))
	log.Debug("answering friend request")

	var result *models.Relationship
	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		rel, err := repo.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if rel == nil {
			return ErrNotFound
		}
		if rel.TargetID != callerID {
			return ErrForbidden
		}
		if rel.Status != models.RelationshipStatusPending {
			return invalidState(ReasonAlreadyProcessed)
		}

		now := s.now()
		rel.Status = status
		rel.UpdatedAt = &now
		if err := repo.Update(ctx, rel, models.RelationshipStatusPending); err != nil {
			return err
		}
		result = rel
		return nil
	})
	if err != nil {
		return nil, s.reject(log, "answer friend request", err, invalidState(ReasonAlreadyProcessed))
	}

	log.Info("friend request answered")
	return result, nil
}

// BlockUser makes callerID the initiator of a Blocked record for the pair,
// creating the record when none exists.
func (s *relationshipService) BlockUser(ctx context.Context, callerID, targetID uuid.UUID) (*models.Relationship, error) {
	log := s.logger.With(zap.Stringer("caller", callerID), zap.Stringer("target", targetID))
	log.Debug("blocking user")

	if callerID == targetID {
		log.Warn("block of self rejected")
		return nil, ErrSelfRelationship
	}

	var result *models.Relationship
	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		existing, err := repo.FindByPair(ctx, callerID, targetID)
		if err != nil {
			return err
		}

		now := s.now()
		if existing == nil {
			rel := models.NewRelationship(callerID, targetID, models.RelationshipStatusBlocked, now)
			if err := repo.Create(ctx, rel); err != nil {
				return err
			}
			result = rel
			return nil
		}

		previous := existing.Status
		applyBlock(existing, callerID, targetID, now)
		if err := repo.Update(ctx, existing, previous); err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, s.reject(log, "block user", err, invalidState(ReasonConcurrent))
	}

	log.Info("user blocked", zap.Stringer("relationship_id", result.ID))
	s.notify(ctx, models.NotificationFriendBlocked, targetID, callerID, "blocked you")
	return result, nil
}

// applyBlock is the only place a record's roles are reassigned after creation.
func applyBlock(rel *models.Relationship, blockerID, blockedID uuid.UUID, now time.Time) {
	rel.AssignRoles(blockerID, blockedID)
	rel.Status = models.RelationshipStatusBlocked
	rel.UpdatedAt = &now
}

// UnblockUser removes a block that callerID placed on targetID.
func (s *relationshipService) UnblockUser(ctx context.Context, callerID, targetID uuid.UUID) error {
	log := s.logger.With(zap.Stringer("caller", callerID), zap.Stringer("target", targetID))
	log.Debug("unblocking user")

	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		rel, err := repo.FindDirectionalWithStatus(ctx, callerID, targetID, models.RelationshipStatusBlocked)
		if err != nil {
			return err
		}
		if rel == nil {
			return ErrNotFound
		}
		if rel.InitiatorID != callerID {
			return ErrForbidden
		}
		return repo.Delete(ctx, rel.ID)
	})
	if err != nil {
		return s.reject(log, "unblock user", err, ErrNotFound)
	}

	log.Info("user unblocked")
	s.notify(ctx, models.NotificationFriendUnblocked, targetID, callerID, "unblocked you")
	return nil
}

// SubscribeToUser creates a Subscribed record. Any existing record for the pair is a conflict.
func (s *relationshipService) SubscribeToUser(ctx context.Context, callerID, targetID uuid.UUID) (*models.Relationship, error) {
	log := s.logger.With(zap.Stringer("caller", callerID), zap.Stringer("target", targetID))
	log.Debug("subscribing to user")

	if callerID == targetID {
		log.Warn("subscription to self rejected")
		return nil, ErrSelfRelationship
	}

	var result *models.Relationship
	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		existing, err := repo.FindByPair(ctx, callerID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyExists(ReasonExists)
		}
		rel := models.NewRelationship(callerID, targetID, models.RelationshipStatusSubscribed, s.now())
		if err := repo.Create(ctx, rel); err != nil {
			return err
		}
		result = rel
		return nil
	})
	if err != nil {
		return nil, s.reject(log, "subscribe", err, invalidState(ReasonConcurrent))
	}

	log.Info("subscribed to user", zap.Stringer("relationship_id", result.ID))
	s.notify(ctx, models.NotificationFriendSubscribed, targetID, callerID, "subscribed to you")
	return result, nil
}

// DeleteFriendship removes the pair record whatever its status.
func (s *relationshipService) DeleteFriendship(ctx context.Context, callerID, otherID uuid.UUID) error {
	log := s.logger.With(zap.Stringer("caller", callerID), zap.Stringer("other", otherID))
	log.Debug("deleting friendship")

	err := s.repo.WithTx(ctx, func(repo storage.RelationshipRepository) error {
		rel, err := repo.FindDirectional(ctx, callerID, otherID)
		if err != nil {
			return err
		}
		if rel == nil {
			rel, err = repo.FindDirectional(ctx, otherID, callerID)
			if err != nil {
				return err
			}
		}
		if rel == nil {
			return ErrNotFound
		}
		return repo.Delete(ctx, rel.ID)
	})
	if err != nil {
		return s.reject(log, "delete friendship", err, ErrNotFound)
	}

	log.Info("friendship deleted")
	return nil
}

// GetRelationshipStatus reports the pair's status as seen by viewerID.
func (s *relationshipService) GetRelationshipStatus(ctx context.Context, viewerID, otherID uuid.UUID) (*models.RelationshipStatusDTO, error) {
	s.logger.Debug("getting relationship status", zap.Stringer("viewer", viewerID), zap.Stringer("other", otherID))

	dto := &models.RelationshipStatusDTO{UserID: otherID, StatusCode: models.DerivedStatusNone}
	if viewerID == otherID {
		return dto, nil
	}

	rel, err := s.repo.FindByPair(ctx, viewerID, otherID)
	if err != nil {
		return nil, fmt.Errorf("get relationship status: %w", err)
	}
	dto.StatusCode = DeriveStatus(viewerID, rel)
	// 已拒绝的记录仍然返回，状态为 NONE
	dto.Relationship = rel
	return dto, nil
}

// ListFriends pages through viewerID's Accepted relationships.
func (s *relationshipService) ListFriends(ctx context.Context, viewerID uuid.UUID, page models.PageRequest) (*models.Page[models.FriendDTO], error) {
	page = page.Normalize()
	rels, total, err := s.repo.ListByParticipant(ctx, viewerID, models.RelationshipStatusAccepted, page)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return models.NewPage(s.enrich(ctx, viewerID, rels), page, total), nil
}

// ListIncomingRequests pages through Pending requests addressed to viewerID.
func (s *relationshipService) ListIncomingRequests(ctx context.Context, viewerID uuid.UUID, page models.PageRequest) (*models.Page[models.FriendDTO], error) {
	page = page.Normalize()
	rels, total, err := s.repo.ListByTarget(ctx, viewerID, models.RelationshipStatusPending, page)
	if err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", err)
	}
	return models.NewPage(s.enrich(ctx, viewerID, rels), page, total), nil
}

func (s *relationshipService) GetFriendCount(ctx context.Context, viewerID uuid.UUID) (int64, error) {
	count, err := s.repo.CountByParticipant(ctx, viewerID, models.RelationshipStatusAccepted)
	if err != nil {
		return 0, fmt.Errorf("count friends: %w", err)
	}
	return count, nil
}

// GetFriendIDs returns the ids of every Accepted counterpart of userID.
func (s *relationshipService) GetFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rels, err := s.repo.ListAllByParticipant(ctx, userID, models.RelationshipStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("list friend ids: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(rels))
	for i := range rels {
		ids = append(ids, rels[i].OtherParticipant(userID))
	}
	return ids, nil
}

// GetBlockedUserIDs returns the users viewerID has blocked.
func (s *relationshipService) GetBlockedUserIDs(ctx context.Context, viewerID uuid.UUID) ([]uuid.UUID, error) {
	rels, err := s.repo.ListAllByInitiator(ctx, viewerID, models.RelationshipStatusBlocked)
	if err != nil {
		return nil, fmt.Errorf("list blocked ids: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(rels))
	for i := range rels {
		ids = append(ids, rels[i].TargetID)
	}
	return ids, nil
}

// enrich pairs each record with the other participant's account.
// Records whose account cannot be resolved are left out.
func (s *relationshipService) enrich(ctx context.Context, viewerID uuid.UUID, rels []models.Relationship) []models.FriendDTO {
	out := make([]models.FriendDTO, 0, len(rels))
	if len(rels) == 0 {
		return out
	}

	ids := make([]uuid.UUID, 0, len(rels))
	for i := range rels {
		ids = append(ids, rels[i].OtherParticipant(viewerID))
	}

	if s.accounts == nil {
		for i := range rels {
			out = append(out, models.FriendDTO{Account: models.Account{ID: ids[i]}, Status: rels[i].Status})
		}
		return out
	}

	accounts, err := s.accounts.Resolve(ctx, ids)
	if err != nil {
		s.logger.Warn("account lookup failed, listing without those entries", zap.Stringer("viewer", viewerID), zap.Error(err))
	}
	for i := range rels {
		acc, ok := accounts[ids[i]]
		if !ok {
			s.logger.Debug("dropping relationship with unresolved account", zap.Stringer("account_id", ids[i]))
			continue
		}
		out = append(out, models.FriendDTO{Account: acc, Status: rels[i].Status})
	}
	return out
}

// reject logs and normalises an error from a mutating transaction.
// stale is returned when the row changed between read and write.
func (s *relationshipService) reject(log *zap.Logger, op string, err error, stale error) error {
	switch {
	case errors.Is(err, storage.ErrRelationshipConflict):
		err = alreadyExists(ReasonExists)
	case errors.Is(err, storage.ErrStaleRelationship):
		err = stale
	}

	if isRuleError(err) {
		log.Warn(op+" rejected", zap.Error(err))
		return err
	}
	log.Error(op+" failed", zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func isRuleError(err error) bool {
	return errors.Is(err, ErrSelfRelationship) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidState)
}

// notify hands the event to the dispatcher after the store write has committed.
func (s *relationshipService) notify(ctx context.Context, typ models.NotificationType, recipientID, senderID uuid.UUID, message string) {
	if s.dispatcher == nil {
		return
	}
	event := models.NotificationEvent{
		Type:        typ,
		RecipientID: recipientID,
		SenderID:    senderID,
		Message:     message,
		Timestamp:   s.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification dispatch panicked", zap.String("type", string(typ)), zap.Any("panic", r))
		}
	}()
	s.dispatcher.Dispatch(ctx, event)
}
