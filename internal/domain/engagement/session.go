package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymcoach/internal/domain/activity"
	"gymcoach/internal/domain/auth"
)

// errUsageConflict signals that a concurrent writer inserted the same
// day's usage record first. The transaction is rolled back and the caller
// decides what that means.
var errUsageConflict = errors.New("usage already recorded for this day")

const (
	defaultAdjustReason = "Manual adjustment by coach"
	defaultUsageReason  = "Manual session usage by coach"
	deductReason        = "Session started"
)

type DeductResult struct {
	EngagementID      int64 `json:"engagement_id"`
	UsageID           int64 `json:"usage_id,omitempty"`
	RemainingSessions Quota `json:"remaining_sessions"`
	AlreadyUsedToday  bool  `json:"already_used_today"`
}

// Deduct consumes today's session for the member with the coach. Repeated
// calls on the same calendar day return the same balance with
// AlreadyUsedToday set. Monthly and hourly plans never touch the balance.
func (s *Service) Deduct(ctx context.Context, memberID, coachID int64) (*DeductResult, error) {
	now := s.clock()
	today := s.day(now)

	var (
		res *DeductResult
		e   *Engagement
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		e, err = lockUsable(ctx, tx, memberID, coachID, now)
		if err != nil {
			return err
		}
		res = &DeductResult{EngagementID: e.ID, RemainingSessions: Unlimited()}
		if e.RateType != RatePackage {
			return nil
		}

		used, err := tx.FindActiveUsage(ctx, e.ID, today)
		if err != nil {
			return err
		}
		if used != nil {
			res.UsageID = used.ID
			res.RemainingSessions = e.Quota()
			res.AlreadyUsedToday = true
			return nil
		}

		usage, err := consume(ctx, tx, e, today, deductReason)
		if err != nil {
			return err
		}
		res.UsageID = usage.ID
		res.RemainingSessions = e.Quota()
		return nil
	})

	if errors.Is(err, errUsageConflict) {
		return s.deductReplay(ctx, memberID, coachID, today)
	}
	if err != nil {
		return nil, storageError(err)
	}

	if !res.AlreadyUsedToday {
		s.record(ctx, e, 0, activity.ActionSessionUsed,
			fmt.Sprintf("Session used on %s, %s remaining", today.Format(time.DateOnly), res.RemainingSessions))
	}
	return res, nil
}

// deductReplay answers a Deduct that lost the race to a concurrent one.
func (s *Service) deductReplay(ctx context.Context, memberID, coachID int64, today time.Time) (*DeductResult, error) {
	e, err := s.repo.FindCurrent(ctx, memberID, coachID)
	if err != nil {
		return nil, storageError(err)
	}
	if e == nil {
		return nil, ErrNoActiveEngagement
	}
	used, err := s.repo.FindActiveUsage(ctx, e.ID, today)
	if err != nil {
		return nil, storageError(err)
	}
	res := &DeductResult{EngagementID: e.ID, RemainingSessions: e.Quota(), AlreadyUsedToday: true}
	if used != nil {
		res.UsageID = used.ID
	}
	return res, nil
}

type UndoInput struct {
	UsageID   int64 `validate:"required,gt=0"`
	MemberID  int64 `validate:"required,gt=0"`
	ActorID   int64
	ActorRole auth.UserRole
}

type UndoResult struct {
	UsageID           int64  `json:"usage_id"`
	EngagementID      int64  `json:"engagement_id"`
	RemainingSessions Quota  `json:"remaining_sessions"`
	Status            Status `json:"status"`
}

// Undo reverses one deduction. The usage record is kept with UndoneAt set
// and the session goes back on the balance.
func (s *Service) Undo(ctx context.Context, in UndoInput) (*UndoResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	now := s.clock()

	var (
		res   *UndoResult
		e     *Engagement
		usage *UsageRecord
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		usage, err = tx.GetActiveUsage(ctx, in.UsageID)
		if err != nil {
			return err
		}
		if usage == nil {
			return ErrRecordNotFound
		}
		e, err = tx.LockByID(ctx, usage.EngagementID)
		if err != nil {
			return err
		}
		if e == nil || e.MemberID != in.MemberID {
			return ErrRecordNotFound
		}
		if in.ActorRole == auth.RoleCoach && e.CoachID != in.ActorID {
			return ErrForbidden
		}

		undone, err := tx.MarkUndone(ctx, usage.ID, now, in.ActorID)
		if err != nil {
			return err
		}
		if !undone {
			return ErrRecordNotFound
		}

		if e.RateType == RatePackage {
			if err := tx.IncrementRemaining(ctx, e.ID); err != nil {
				return err
			}
			n := 1
			if e.RemainingSessions != nil {
				n = *e.RemainingSessions + 1
			}
			e.RemainingSessions = &n
		}
		if err := settleStatus(ctx, tx, e, e.Lapsed(now)); err != nil {
			return err
		}

		res = &UndoResult{
			UsageID:           usage.ID,
			EngagementID:      e.ID,
			RemainingSessions: e.Quota(),
			Status:            e.Status,
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.record(ctx, e, in.ActorID, activity.ActionSessionUndone,
		fmt.Sprintf("Undid session usage %d from %s, %s remaining", usage.ID, usage.UsageDate.Format(time.DateOnly), res.RemainingSessions))
	return res, nil
}

type AdjustInput struct {
	MemberID  int64  `validate:"required,gt=0"`
	CoachID   *int64 `validate:"omitempty,gt=0"`
	Delta     int    `validate:"required"`
	Reason    string `validate:"max=500"`
	ActorID   int64
	ActorRole auth.UserRole
}

type AdjustResult struct {
	EngagementID  int64  `json:"engagement_id"`
	PreviousCount int    `json:"previous_count"`
	NewCount      int    `json:"new_count"`
	Status        Status `json:"status"`
}

// Adjust changes the balance of the member's current package by delta.
// The balance never goes below zero.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*AdjustResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		in.Reason = defaultAdjustReason
	}
	now := s.clock()

	var (
		res *AdjustResult
		e   *Engagement
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		e, err = tx.LockLatestPackage(ctx, in.MemberID, in.CoachID, now)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrNoActivePackage
		}
		if in.ActorRole == auth.RoleCoach && e.CoachID != in.ActorID {
			return ErrForbidden
		}

		prev, _ := e.Quota().Count()
		next := prev + in.Delta
		if next < 0 {
			return ErrNegativeBalance
		}
		if err := tx.SetRemaining(ctx, e.ID, next); err != nil {
			return err
		}
		e.RemainingSessions = &next
		if err := settleStatus(ctx, tx, e, e.Lapsed(now)); err != nil {
			return err
		}

		res = &AdjustResult{
			EngagementID:  e.ID,
			PreviousCount: prev,
			NewCount:      next,
			Status:        e.Status,
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.record(ctx, e, in.ActorID, activity.ActionSessionAdjusted,
		fmt.Sprintf("Adjusted sessions by %d (%d -> %d). Reason: %s", in.Delta, res.PreviousCount, res.NewCount, in.Reason))
	return res, nil
}

type AddUsageInput struct {
	MemberID  int64     `validate:"required,gt=0"`
	CoachID   int64     `validate:"required,gt=0"`
	UsageDate time.Time `validate:"required"`
	Reason    string    `validate:"max=500"`
	ActorID   int64
	ActorRole auth.UserRole
}

type AddUsageResult struct {
	EngagementID      int64     `json:"engagement_id"`
	UsageID           int64     `json:"usage_id"`
	UsageDate         time.Time `json:"usage_date"`
	RemainingSessions Quota     `json:"remaining_sessions"`
}

// AddUsage records a session on an explicit, possibly past, date. It
// follows the same rules as Deduct except that a second record for the
// same day is an error.
func (s *Service) AddUsage(ctx context.Context, in AddUsageInput) (*AddUsageResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		in.Reason = defaultUsageReason
	}
	now := s.clock()
	day := time.Date(in.UsageDate.Year(), in.UsageDate.Month(), in.UsageDate.Day(), 0, 0, 0, 0, time.UTC)
	if day.After(s.day(now)) {
		return nil, &ValidationError{Fields: map[string]string{"UsageDate": "must not be in the future"}}
	}

	var (
		res *AddUsageResult
		e   *Engagement
	)
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		e, err = lockUsable(ctx, tx, in.MemberID, in.CoachID, now)
		if err != nil {
			return err
		}
		if in.ActorRole == auth.RoleCoach && e.CoachID != in.ActorID {
			return ErrForbidden
		}
		if e.RateType != RatePackage {
			return ErrNoActivePackage
		}

		used, err := tx.FindActiveUsage(ctx, e.ID, day)
		if err != nil {
			return err
		}
		if used != nil {
			return ErrAlreadyUsedOnDate
		}

		usage, err := consume(ctx, tx, e, day, in.Reason)
		if err != nil {
			return err
		}
		res = &AddUsageResult{
			EngagementID:      e.ID,
			UsageID:           usage.ID,
			UsageDate:         day,
			RemainingSessions: e.Quota(),
		}
		return nil
	})
	if errors.Is(err, errUsageConflict) {
		return nil, ErrAlreadyUsedOnDate
	}
	if err != nil {
		return nil, storageError(err)
	}

	s.record(ctx, e, in.ActorID, activity.ActionSessionAdded,
		fmt.Sprintf("Added session usage on %s. Reason: %s", day.Format(time.DateOnly), in.Reason))
	return res, nil
}

// lockUsable locks the pair's approved engagement and rejects it when it
// has lapsed.
func lockUsable(ctx context.Context, tx Repository, memberID, coachID int64, now time.Time) (*Engagement, error) {
	e, err := tx.LockApproved(ctx, memberID, coachID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNoActiveEngagement
	}
	if e.Lapsed(now) {
		return nil, ErrEngagementExpired
	}
	return e, nil
}

// consume takes one session off a locked package engagement and writes the
// usage record for day. e is updated in place.
func consume(ctx context.Context, tx Repository, e *Engagement, day time.Time, reason string) (*UsageRecord, error) {
	if !e.Quota().Allows() {
		return nil, ErrQuotaExhausted
	}
	ok, err := tx.DecrementRemaining(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExhausted
	}
	n := *e.RemainingSessions - 1
	e.RemainingSessions = &n

	usage := &UsageRecord{
		EngagementID: e.ID,
		UsageDate:    day,
		Reason:       reason,
	}
	if err := tx.CreateUsage(ctx, usage); err != nil {
		if isUniqueViolation(err) {
			return nil, errUsageConflict
		}
		return nil, err
	}

	if err := settleStatus(ctx, tx, e, false); err != nil {
		return nil, err
	}
	return usage, nil
}

// settleStatus re-derives the status after a balance change and persists it
// when it moved. Reviving an engagement fails if the pair has since opened
// a new one.
func settleStatus(ctx context.Context, tx Repository, e *Engagement, lapsed bool) error {
	next := e.resolve(lapsed)
	if next == e.Status {
		return nil
	}
	if _, err := tx.UpdateStatus(ctx, e.ID, e.Status, next); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEngagement
		}
		return err
	}
	e.Status = next
	return nil
}
