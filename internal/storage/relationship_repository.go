package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"friends-go/internal/models"
)

var (
	// ErrRelationshipConflict means another row already holds the same unordered pair.
	ErrRelationshipConflict = errors.New("relationship for this pair already exists")
	// ErrStaleRelationship means the row changed status (or vanished) since it was read.
	ErrStaleRelationship = errors.New("relationship was modified concurrently")
)

// RelationshipRepository defines the interface for relationship data operations.
// Single-row lookups return (nil, nil) when nothing matches.
type RelationshipRepository interface {
	FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Relationship, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error)
	FindDirectional(ctx context.Context, initiatorID, targetID uuid.UUID) (*models.Relationship, error)
	FindDirectionalWithStatus(ctx context.Context, initiatorID, targetID uuid.UUID, status models.RelationshipStatus) (*models.Relationship, error)

	Create(ctx context.Context, rel *models.Relationship) error
	// Update persists rel only if the stored row still has expected status.
	Update(ctx context.Context, rel *models.Relationship, expected models.RelationshipStatus) error
	Delete(ctx context.Context, id uuid.UUID) error

	ListByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus, page models.PageRequest) ([]models.Relationship, int64, error)
	ListByTarget(ctx context.Context, targetID uuid.UUID, status models.RelationshipStatus, page models.PageRequest) ([]models.Relationship, int64, error)
	ListAllByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus) ([]models.Relationship, error)
	ListAllByInitiator(ctx context.Context, initiatorID uuid.UUID, status models.RelationshipStatus) ([]models.Relationship, error)
	CountByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus) (int64, error)

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(repo RelationshipRepository) error) error
}

type gormRelationshipRepository struct {
	db *gorm.DB
}

// NewGormRelationshipRepository creates a new gorm-backed RelationshipRepository.
func NewGormRelationshipRepository(db *gorm.DB) RelationshipRepository {
	return &gormRelationshipRepository{db: db}
}

func (r *gormRelationshipRepository) first(ctx context.Context, query string, args ...interface{}) (*models.Relationship, error) {
	var rel models.Relationship
	err := r.db.WithContext(ctx).Where(query, args...).First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

// FindByPair finds the record for {a, b} regardless of which side is initiator.
func (r *gormRelationshipRepository) FindByPair(ctx context.Context, a, b uuid.UUID) (*models.Relationship, error) {
	rel, err := r.first(ctx, "pair_key = ?", models.PairKeyFor(a, b))
	if err != nil {
		return nil, fmt.Errorf("find relationship by pair: %w", err)
	}
	return rel, nil
}

func (r *gormRelationshipRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Relationship, error) {
	rel, err := r.first(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("find relationship by id: %w", err)
	}
	return rel, nil
}

func (r *gormRelationshipRepository) FindDirectional(ctx context.Context, initiatorID, targetID uuid.UUID) (*models.Relationship, error) {
	rel, err := r.first(ctx, "user_id_initiator = ? AND user_id_target = ?", initiatorID, targetID)
	if err != nil {
		return nil, fmt.Errorf("find directional relationship: %w", err)
	}
	return rel, nil
}

func (r *gormRelationshipRepository) FindDirectionalWithStatus(ctx context.Context, initiatorID, targetID uuid.UUID, status models.RelationshipStatus) (*models.Relationship, error) {
	rel, err := r.first(ctx, "user_id_initiator = ? AND user_id_target = ? AND status = ?", initiatorID, targetID, status)
	if err != nil {
		return nil, fmt.Errorf("find directional relationship: %w", err)
	}
	return rel, nil
}

// Create inserts rel. A unique violation on the pair key becomes ErrRelationshipConflict.
func (r *gormRelationshipRepository) Create(ctx context.Context, rel *models.Relationship) error {
	rel.EnsurePairKey()
	if err := r.db.WithContext(ctx).Create(rel).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrRelationshipConflict
		}
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

func (r *gormRelationshipRepository) Update(ctx context.Context, rel *models.Relationship, expected models.RelationshipStatus) error {
	rel.EnsurePairKey()
	res := r.db.WithContext(ctx).
		Model(&models.Relationship{}).
		Where("id = ? AND status = ?", rel.ID, expected).
		Updates(map[string]interface{}{
			"user_id_initiator": rel.InitiatorID,
			"user_id_target":    rel.TargetID,
			"pair_key":          rel.PairKey,
			"status":            rel.Status,
			"updated_at":        rel.UpdatedAt,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrRelationshipConflict
		}
		return fmt.Errorf("update relationship: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRelationship
	}
	return nil
}

func (r *gormRelationshipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Relationship{})
	if res.Error != nil {
		return fmt.Errorf("delete relationship: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRelationship
	}
	return nil
}

func (r *gormRelationshipRepository) participantScope(userID uuid.UUID, status models.RelationshipStatus) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Model(&models.Relationship{}).
			Where("(user_id_initiator = ? OR user_id_target = ?) AND status = ?", userID, userID, status)
	}
}

func (r *gormRelationshipRepository) page(ctx context.Context, scope func(*gorm.DB) *gorm.DB, page models.PageRequest) ([]models.Relationship, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	rels := make([]models.Relationship, 0, page.Size)
	if total == 0 {
		return rels, 0, nil
	}
	err := r.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC").Order("id").
		Offset(page.Offset()).Limit(page.Size).
		Find(&rels).Error
	if err != nil {
		return nil, 0, err
	}
	return rels, total, nil
}

// ListByParticipant pages through records where userID holds either role.
func (r *gormRelationshipRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus, page models.PageRequest) ([]models.Relationship, int64, error) {
	rels, total, err := r.page(ctx, r.participantScope(userID, status), page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list relationships by participant: %w", err)
	}
	return rels, total, nil
}

// ListByTarget pages through records where targetID is the target.
func (r *gormRelationshipRepository) ListByTarget(ctx context.Context, targetID uuid.UUID, status models.RelationshipStatus, page models.PageRequest) ([]models.Relationship, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Model(&models.Relationship{}).Where("user_id_target = ? AND status = ?", targetID, status)
	}
	rels, total, err := r.page(ctx, scope, page.Normalize())
	if err != nil {
		return nil, 0, fmt.Errorf("list relationships by target: %w", err)
	}
	return rels, total, nil
}

func (r *gormRelationshipRepository) ListAllByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus) ([]models.Relationship, error) {
	var rels []models.Relationship
	err := r.db.WithContext(ctx).Scopes(r.participantScope(userID, status)).
		Order("created_at DESC").Order("id").
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("list relationships by participant: %w", err)
	}
	return rels, nil
}

func (r *gormRelationshipRepository) ListAllByInitiator(ctx context.Context, initiatorID uuid.UUID, status models.RelationshipStatus) ([]models.Relationship, error) {
	var rels []models.Relationship
	err := r.db.WithContext(ctx).
		Where("user_id_initiator = ? AND status = ?", initiatorID, status).
		Order("created_at DESC").Order("id").
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("list relationships by initiator: %w", err)
	}
	return rels, nil
}

func (r *gormRelationshipRepository) CountByParticipant(ctx context.Context, userID uuid.UUID, status models.RelationshipStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Scopes(r.participantScope(userID, status)).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count relationships: %w", err)
	}
	return count, nil
}

func (r *gormRelationshipRepository) WithTx(ctx context.Context, fn func(repo RelationshipRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRelationshipRepository{db: tx})
	})
}
