package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"gymcoach/internal/config"
	"gymcoach/internal/database"
	"gymcoach/internal/domain/activity"
	"gymcoach/internal/domain/auth"
	"gymcoach/internal/domain/engagement"
	jwtsvc "gymcoach/internal/pkg/jwt"
	"gymcoach/internal/pkg/logger"
)

const (
	staffID = int64(1)
	coachA  = int64(10)
	coachB  = int64(11)
)

var members = []int64{100, 101, 102, 103}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.WithError(err).Fatal("invalid configuration")
	}
	if config.IsProdLike(cfg.AppEnv) {
		logger.Logger.Fatal("refusing to seed a production database")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Logger.WithError(err).Fatal("DB connection failed")
	}

	logger.Logger.Info("running AutoMigrate")
	if err := db.AutoMigrate(
		&engagement.Engagement{},
		&engagement.UsageRecord{},
		&engagement.MemberEntitlement{},
		&activity.Entry{},
	); err != nil {
		logger.Logger.WithError(err).Fatal("AutoMigrate failed")
	}

	logger.Logger.Info("cleaning old data")
	db.Exec("DELETE FROM coach_session_usages")
	db.Exec("DELETE FROM coach_engagements")
	db.Exec("DELETE FROM member_entitlements")
	db.Exec("DELETE FROM activity_logs")

	now := time.Now().UTC()
	for _, id := range members {
		ent := engagement.MemberEntitlement{
			MemberID:  id,
			Plan:      engagement.PlanPremium,
			ValidFrom: now.AddDate(0, -1, 0),
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ent).Error; err != nil {
			logger.Logger.WithError(err).Fatal("seed entitlements failed")
		}
	}

	ctx := context.Background()
	svc := engagement.NewService(
		engagement.NewRepository(db),
		engagement.NewEntitlementChecker(db),
		activity.NewService(db),
		cfg.Location,
	)

	// active package with a few sessions used
	pkg := approve(ctx, svc, engagement.RequestInput{MemberID: members[0], CoachID: coachA, RateType: engagement.RatePackage, Rate: 12000, SessionCount: 10})
	if _, err := svc.Deduct(ctx, pkg.MemberID, pkg.CoachID); err != nil {
		logger.Logger.WithError(err).Fatal("seed deduction failed")
	}
	for i := 1; i <= 2; i++ {
		if _, err := svc.AddUsage(ctx, engagement.AddUsageInput{
			MemberID:  pkg.MemberID,
			CoachID:   pkg.CoachID,
			UsageDate: now.AddDate(0, 0, -i*2),
			Reason:    "Seeded past session",
			ActorID:   staffID,
			ActorRole: auth.RoleStaff,
		}); err != nil {
			logger.Logger.WithError(err).Fatal("seed usage failed")
		}
	}

	// active monthly subscription
	approve(ctx, svc, engagement.RequestInput{MemberID: members[1], CoachID: coachB, RateType: engagement.RateMonthly, Rate: 30000})

	// waiting for staff
	pending, err := svc.Request(ctx, engagement.RequestInput{MemberID: members[2], CoachID: coachA, RateType: engagement.RateHourly, Rate: 5000})
	if err != nil {
		logger.Logger.WithError(err).Fatal("seed request failed")
	}
	if _, err := svc.ApproveByCoach(ctx, pending.ID, coachA); err != nil {
		logger.Logger.WithError(err).Fatal("seed coach approval failed")
	}

	// rejected by the coach
	rejected, err := svc.Request(ctx, engagement.RequestInput{MemberID: members[3], CoachID: coachB, RateType: engagement.RatePackage, Rate: 6000, SessionCount: 5})
	if err != nil {
		logger.Logger.WithError(err).Fatal("seed request failed")
	}
	if _, err := svc.RejectByCoach(ctx, rejected.ID, coachB, "Schedule is full"); err != nil {
		logger.Logger.WithError(err).Fatal("seed rejection failed")
	}

	logger.Logger.Info("seed completed, development tokens:")
	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL)
	token(j, staffID, auth.RoleStaff)
	token(j, coachA, auth.RoleCoach)
	token(j, coachB, auth.RoleCoach)
	for _, id := range members {
		token(j, id, auth.RoleMember)
	}
}

func approve(ctx context.Context, svc *engagement.Service, in engagement.RequestInput) *engagement.Engagement {
	e, err := svc.Request(ctx, in)
	if err != nil {
		logger.Logger.WithError(err).Fatal("seed request failed")
	}
	if _, err := svc.ApproveByCoach(ctx, e.ID, in.CoachID); err != nil {
		logger.Logger.WithError(err).Fatal("seed coach approval failed")
	}
	e, err = svc.ApproveByStaff(ctx, e.ID, staffID)
	if err != nil {
		logger.Logger.WithError(err).Fatal("seed staff approval failed")
	}
	return e
}

func token(j *jwtsvc.Service, id int64, role auth.UserRole) {
	t, err := j.GenerateToken(id, string(role))
	if err != nil {
		logger.Logger.WithError(err).Fatal("token generation failed")
	}
	fmt.Printf("%-7s %4d  %s\n", role, id, t)
}
