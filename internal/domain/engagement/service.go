package engagement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gymcoach/internal/domain/activity"
	"gymcoach/internal/pkg/validator"
)

// ActivityRecorder receives audit entries after a change commits. It must
// not fail the caller.
type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry)
}

type Service struct {
	repo         Repository
	entitlements EntitlementChecker
	activity     ActivityRecorder
	history      HistoryReader
	loc          *time.Location
	now          func() time.Time
}

// NewService wires the engagement service. loc defines the calendar day
// used by the usage ledger; nil means UTC.
func NewService(repo Repository, entitlements EntitlementChecker, recorder ActivityRecorder, loc *time.Location) *Service {
	if entitlements == nil {
		entitlements = AllowAll{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:         repo,
		entitlements: entitlements,
		activity:     recorder,
		loc:          loc,
		now:          time.Now,
	}
}

// ValidationError lists the offending input fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k+" "+e.Fields[k])
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(keys, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validate(v any) error {
	if fields := validator.Validate(v); fields != nil {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type RequestInput struct {
	MemberID     int64    `validate:"required,gt=0"`
	CoachID      int64    `validate:"required,gt=0"`
	RateType     RateType `validate:"required"`
	Rate         float64  `validate:"gte=0"`
	SessionCount int      `validate:"gte=0"`
}

// Request creates a pending engagement between a member and a coach.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Engagement, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.MemberID == in.CoachID {
		return nil, &ValidationError{Fields: map[string]string{"CoachID": "must differ from member"}}
	}
	if !in.RateType.Valid() {
		return nil, ErrInvalidRateType
	}

	now := s.clock()
	ok, err := s.entitlements.HasPremium(ctx, in.MemberID, now)
	if err != nil {
		return nil, storageError(err)
	}
	if !ok {
		return nil, ErrEntitlementRequired
	}

	plan, err := PlanFor(in.RateType, in.SessionCount, now)
	if err != nil {
		return nil, err
	}

	e := &Engagement{
		MemberID:          in.MemberID,
		CoachID:           in.CoachID,
		Status:            StatusPending,
		CoachApproval:     ApprovalPending,
		StaffApproval:     ApprovalPending,
		RateType:          in.RateType,
		Rate:              in.Rate,
		RemainingSessions: plan.RemainingSessions,
		ExpiresAt:         &plan.ExpiresAt,
		RequestedAt:       now,
	}

	var stale *Engagement
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		open, err := tx.FindOpen(ctx, in.MemberID, in.CoachID)
		if err != nil {
			return err
		}
		if open != nil && open.Lapsed(now) {
			// the sweep has not reached it yet
			if _, err := tx.UpdateStatus(ctx, open.ID, open.Status, StatusExpired); err != nil {
				return err
			}
			open.Status = StatusExpired
			stale, open = open, nil
		}
		if open != nil {
			return ErrDuplicateEngagement
		}
		if err := tx.Create(ctx, e); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEngagement
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	if stale != nil {
		s.record(ctx, stale, 0, activity.ActionEngagementExpired,
			fmt.Sprintf("Engagement %d expired at %s", stale.ID, stale.ExpiresAt.Format(time.RFC3339)))
	}
	s.record(ctx, e, in.MemberID, activity.ActionEngagementRequested,
		fmt.Sprintf("Member %d requested coach %d on a %s plan", in.MemberID, in.CoachID, in.RateType))
	return e, nil
}

type track int

const (
	trackCoach track = iota
	trackStaff
)

// ApproveByCoach records the coach's approval. Only the engagement's coach may approve.
func (s *Service) ApproveByCoach(ctx context.Context, id, coachID int64) (*Engagement, error) {
	return s.decide(ctx, id, coachID, trackCoach, ApprovalApproved, "")
}

// RejectByCoach disconnects the engagement on the coach's behalf.
func (s *Service) RejectByCoach(ctx context.Context, id, coachID int64, reason string) (*Engagement, error) {
	return s.decide(ctx, id, coachID, trackCoach, ApprovalRejected, reason)
}

func (s *Service) ApproveByStaff(ctx context.Context, id, staffID int64) (*Engagement, error) {
	return s.decide(ctx, id, staffID, trackStaff, ApprovalApproved, "")
}

func (s *Service) RejectByStaff(ctx context.Context, id, staffID int64, reason string) (*Engagement, error) {
	return s.decide(ctx, id, staffID, trackStaff, ApprovalRejected, reason)
}

// decide applies one decision to one approval track. Each track accepts a
// single decision; the overall status is then re-derived from both tracks.
func (s *Service) decide(ctx context.Context, id, actorID int64, t track, decision Approval, reason string) (*Engagement, error) {
	now := s.clock()
	var e *Engagement

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		e, err = tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return ErrEngagementNotFound
		}
		if t == trackCoach && e.CoachID != actorID {
			return ErrForbidden
		}
		if e.Status == StatusDisconnected {
			return ErrAlreadyProcessed
		}
		if !e.Approved() && (e.Status == StatusExpired || e.Lapsed(now)) {
			return ErrAlreadyProcessed
		}

		switch t {
		case trackCoach:
			if e.CoachApproval != ApprovalPending {
				return ErrAlreadyProcessed
			}
			e.CoachApproval = decision
			e.CoachApprovedAt = &now
			e.HandledByCoach = &actorID
		case trackStaff:
			if e.StaffApproval != ApprovalPending {
				return ErrAlreadyProcessed
			}
			e.StaffApproval = decision
			e.StaffApprovedAt = &now
			e.HandledByStaff = &actorID
		}
		if decision == ApprovalRejected {
			e.RejectionReason = reason
		}
		e.Status = e.resolve(e.Lapsed(now))
		e.UpdatedAt = now
		return tx.Save(ctx, e)
	})
	if err != nil {
		return nil, storageError(err)
	}

	action, details := decisionEntry(e, t, decision, reason)
	s.record(ctx, e, actorID, action, details)
	return e, nil
}

func decisionEntry(e *Engagement, t track, decision Approval, reason string) (string, string) {
	who := "Coach"
	action := activity.ActionCoachApproved
	if t == trackStaff {
		who = "Staff"
		action = activity.ActionStaffApproved
	}
	if decision == ApprovalRejected {
		if t == trackStaff {
			action = activity.ActionStaffRejected
		} else {
			action = activity.ActionCoachRejected
		}
		details := fmt.Sprintf("%s rejected engagement %d", who, e.ID)
		if reason != "" {
			details += ". Reason: " + reason
		}
		return action, details
	}
	return action, fmt.Sprintf("%s approved engagement %d, status %s", who, e.ID, e.Status)
}

// ListCoachPending returns requests still waiting on the coach.
func (s *Service) ListCoachPending(ctx context.Context, coachID int64) ([]Engagement, error) {
	list, err := s.repo.ListCoachPending(ctx, coachID)
	return list, storageError(err)
}

// ListStaffPending returns requests still waiting on staff.
func (s *Service) ListStaffPending(ctx context.Context) ([]Engagement, error) {
	list, err := s.repo.ListStaffPending(ctx)
	return list, storageError(err)
}

// MemberRequestStatus returns the member's most recent engagement.
func (s *Service) MemberRequestStatus(ctx context.Context, memberID int64) (*Engagement, error) {
	e, err := s.repo.LatestForMember(ctx, memberID)
	if err != nil {
		return nil, storageError(err)
	}
	if e == nil {
		return nil, ErrEngagementNotFound
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Engagement, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	if e == nil {
		return nil, ErrEngagementNotFound
	}
	return e, nil
}

// CheckAvailability reports whether the member may start a workout with the coach now.
func (s *Service) CheckAvailability(ctx context.Context, memberID, coachID int64) (Availability, error) {
	e, err := s.repo.FindCurrent(ctx, memberID, coachID)
	if err != nil {
		return Availability{}, storageError(err)
	}
	return Evaluate(e, s.clock()), nil
}

// RemainingSessions is the quota part of CheckAvailability.
func (s *Service) RemainingSessions(ctx context.Context, memberID, coachID int64) (Quota, error) {
	a, err := s.CheckAvailability(ctx, memberID, coachID)
	if err != nil {
		return Quota{}, err
	}
	return a.RemainingSessions, nil
}

// ExpireLapsed moves pending and active engagements whose expiry has passed
// to expired and returns how many changed. Expiring a stale request frees
// the pair for a new one.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	now := s.clock()
	lapsed, err := s.repo.ListLapsed(ctx, now)
	if err != nil {
		return 0, storageError(err)
	}

	expired := 0
	for i := range lapsed {
		e := &lapsed[i]
		changed, err := s.repo.UpdateStatus(ctx, e.ID, e.Status, StatusExpired)
		if err != nil {
			return expired, storageError(err)
		}
		if !changed {
			continue
		}
		expired++
		e.Status = StatusExpired
		s.record(ctx, e, 0, activity.ActionEngagementExpired,
			fmt.Sprintf("Engagement %d expired at %s", e.ID, e.ExpiresAt.Format(time.RFC3339)))
	}
	return expired, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// day maps an instant to its calendar day in the service timezone, stored
// as midnight UTC.
func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, e *Engagement, actorID int64, action, details string) {
	if s.activity == nil {
		return
	}
	entry := activity.Entry{
		Action:       action,
		Details:      details,
		EngagementID: &e.ID,
		MemberID:     &e.MemberID,
		CoachID:      &e.CoachID,
	}
	if actorID != 0 {
		entry.ActorID = &actorID
	}
	s.activity.Record(ctx, entry)
}
