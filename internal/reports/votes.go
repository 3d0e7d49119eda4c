package reports

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CastVote records userID's vote on reportID and returns the new vote count.
// A second cast for the same pair fails with ErrAlreadyVoted instead of being ignored.
func (s *Service) CastVote(ctx context.Context, reportID, userID string) (VoteResult, error) {
	reportKey, userKey, err := s.voteKeys(opCastVote, reportID, userID)
	if err != nil {
		return VoteResult{}, err
	}

	var result VoteResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadReport(tx, opCastVote, reportKey); err != nil {
			return err
		}
		// Early exit for the common case; the primary key still decides under races.
		present, err := s.hasVote(tx, opCastVote, reportKey, userKey)
		if err != nil {
			return err
		}
		if present {
			return newServiceError(KindAlreadyVoted, opCastVote, "already_voted", nil)
		}
		if err := s.insertVote(tx, opCastVote, reportKey, userKey); err != nil {
			return err
		}
		count, err := s.countVotes(tx, opCastVote, reportKey)
		if err != nil {
			return err
		}
		result = VoteResult{ReportID: reportKey, VoteCount: count, Voted: true}
		return nil
	})
	if txErr != nil {
		return VoteResult{}, s.transactionError(opCastVote, txErr)
	}
	return result, nil
}

// RetractVote removes userID's vote on reportID and returns the new vote count.
func (s *Service) RetractVote(ctx context.Context, reportID, userID string) (VoteResult, error) {
	reportKey, userKey, err := s.voteKeys(opRetractVote, reportID, userID)
	if err != nil {
		return VoteResult{}, err
	}

	var result VoteResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadReport(tx, opRetractVote, reportKey); err != nil {
			return err
		}
		removed, err := s.deleteVote(tx, opRetractVote, reportKey, userKey)
		if err != nil {
			return err
		}
		if !removed {
			return newServiceError(KindVoteNotFound, opRetractVote, "vote_not_found", nil)
		}
		count, err := s.countVotes(tx, opRetractVote, reportKey)
		if err != nil {
			return err
		}
		result = VoteResult{ReportID: reportKey, VoteCount: count, Voted: false}
		return nil
	})
	if txErr != nil {
		return VoteResult{}, s.transactionError(opRetractVote, txErr)
	}
	return result, nil
}

// ToggleVote retracts userID's vote when present and casts it when absent, in one transaction.
func (s *Service) ToggleVote(ctx context.Context, reportID, userID string) (VoteResult, error) {
	reportKey, userKey, err := s.voteKeys(opToggleVote, reportID, userID)
	if err != nil {
		return VoteResult{}, err
	}

	var result VoteResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadReport(tx, opToggleVote, reportKey); err != nil {
			return err
		}
		removed, err := s.deleteVote(tx, opToggleVote, reportKey, userKey)
		if err != nil {
			return err
		}
		if !removed {
			if err := s.insertVote(tx, opToggleVote, reportKey, userKey); err != nil {
				return err
			}
		}
		count, err := s.countVotes(tx, opToggleVote, reportKey)
		if err != nil {
			return err
		}
		result = VoteResult{ReportID: reportKey, VoteCount: count, Voted: !removed}
		return nil
	})
	if txErr != nil {
		return VoteResult{}, s.transactionError(opToggleVote, txErr)
	}
	return result, nil
}

// VoteCount returns the number of live votes on reportID.
func (s *Service) VoteCount(ctx context.Context, reportID string) (int64, error) {
	if err := s.ensureDatabase(opVoteCount); err != nil {
		return 0, err
	}
	reportKey, err := reportIdentifier(opVoteCount, reportID)
	if err != nil {
		return 0, err
	}
	db := s.db.WithContext(ctx)
	if _, err := s.loadReport(db, opVoteCount, reportKey); err != nil {
		return 0, err
	}
	return s.countVotes(db, opVoteCount, reportKey)
}

func (s *Service) voteKeys(operation, reportID, userID string) (string, string, error) {
	if err := s.ensureDatabase(operation); err != nil {
		return "", "", err
	}
	userKey := normalize(userID)
	if userKey == "" {
		return "", "", newServiceError(KindUnauthenticated, operation, "missing_user", nil)
	}
	if len(userKey) > maxIdentifierLength {
		return "", "", newValidationError(operation, []FieldError{{Field: "user_id", Rule: "identifier"}})
	}
	reportKey, err := reportIdentifier(operation, reportID)
	if err != nil {
		return "", "", err
	}
	return reportKey, userKey, nil
}

func (s *Service) hasVote(db *gorm.DB, operation, reportID, userID string) (bool, error) {
	var count int64
	if err := db.Model(&Vote{}).
		Where("report_id = ? AND user_id = ?", reportID, userID).
		Count(&count).Error; err != nil {
		s.logError(operation, "vote_select_failed", err,
			zap.String("report_id", reportID),
			zap.String("user_id", userID))
		return false, newServiceError(KindStoreUnavailable, operation, "vote_select_failed", err)
	}
	return count > 0, nil
}

func (s *Service) insertVote(tx *gorm.DB, operation, reportID, userID string) error {
	vote := Vote{
		ReportID:         reportID,
		UserID:           userID,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := tx.Create(&vote).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return newServiceError(KindAlreadyVoted, operation, "already_voted", err)
	}
	s.logError(operation, "vote_insert_failed", err,
		zap.String("report_id", reportID),
		zap.String("user_id", userID))
	return newServiceError(KindStoreUnavailable, operation, "vote_insert_failed", err)
}

func (s *Service) deleteVote(tx *gorm.DB, operation, reportID, userID string) (bool, error) {
	result := tx.Where("report_id = ? AND user_id = ?", reportID, userID).Delete(&Vote{})
	if result.Error != nil {
		s.logError(operation, "vote_delete_failed", result.Error,
			zap.String("report_id", reportID),
			zap.String("user_id", userID))
		return false, newServiceError(KindStoreUnavailable, operation, "vote_delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) transactionError(operation string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	s.logError(operation, "transaction_failed", err)
	return newServiceError(KindStoreUnavailable, operation, "transaction_failed", err)
}

// isUniqueViolation recognizes primary key and unique index violations. Error translation
// yields gorm.ErrDuplicatedKey; the message check covers connections opened without it.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
