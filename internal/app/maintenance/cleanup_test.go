package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/database/testutil"
	"github.com/tranqk/schoolhub/internal/models"
	"github.com/tranqk/schoolhub/internal/services"
	"github.com/tranqk/schoolhub/internal/session"
)

func newCleanupFixture(t *testing.T) (*Cleaner, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	sessions, err := session.NewManager(db, session.Config{})
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(db, sessions, audit, WithAuditRetentionDays(30))
	return cleaner, db
}

func seedSession(t *testing.T, db *gorm.DB, token string, expiresAt time.Time) string {
	t.Helper()

	now := time.Now()
	record := models.Session{
		Token:          token,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		LastActivityAt: now,
	}
	require.NoError(t, db.Create(&record).Error)
	return record.ID
}

func TestRunOncePurgesExpiredState(t *testing.T) {
	cleaner, db := newCleanupFixture(t)
	now := time.Now()

	expiredSession := seedSession(t, db, "maint-expired-token", now.Add(-time.Hour))
	liveSession := seedSession(t, db, "maint-live-token", now.Add(time.Hour))

	user := models.User{Email: "maint.owner@school.test", FullName: "Maint Owner"}
	require.NoError(t, db.Create(&user).Error)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	expiredToken := models.OAuthToken{UserID: user.ID, AccessToken: "sealed-old", ExpiresAt: &past}
	require.NoError(t, db.Create(&expiredToken).Error)

	keeper := models.User{Email: "maint.keeper@school.test", FullName: "Maint Keeper"}
	require.NoError(t, db.Create(&keeper).Error)
	liveToken := models.OAuthToken{UserID: keeper.ID, AccessToken: "sealed-live", ExpiresAt: &future}
	require.NoError(t, db.Create(&liveToken).Error)

	staleCache := models.CacheEntry{Key: "maint:stale", Value: []byte("x"), ExpiresAt: past}
	require.NoError(t, db.Create(&staleCache).Error)

	oldLog := models.AuditLog{Action: "auth.login", Result: "success", Email: "maint.owner@school.test"}
	require.NoError(t, db.Create(&oldLog).Error)
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("id = ?", oldLog.ID).
		Update("created_at", now.AddDate(0, 0, -60)).Error)

	require.NoError(t, cleaner.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", liveSession).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.NoError(t, db.Model(&models.OAuthToken{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, db.Model(&models.OAuthToken{}).Where("user_id = ?", keeper.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.NoError(t, db.Model(&models.CacheEntry{}).Where("key = ?", "maint:stale").Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, db.Model(&models.AuditLog{}).Where("id = ?", oldLog.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanupExpiredRowsKeepsUnexpiringTokens(t *testing.T) {
	_, db := newCleanupFixture(t)

	user := models.User{Email: "maint.forever@school.test", FullName: "Maint Forever"}
	require.NoError(t, db.Create(&user).Error)

	// No expiry set: the token never ages out.
	token := models.OAuthToken{UserID: user.ID, AccessToken: "sealed-forever"}
	require.NoError(t, db.Create(&token).Error)

	stats, err := CleanupExpiredRows(context.Background(), db, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, stats.OAuthTokens)

	var count int64
	require.NoError(t, db.Model(&models.OAuthToken{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	_, err = CleanupExpiredRows(context.Background(), nil, time.Now())
	require.Error(t, err)
}

func TestStartAndStopScheduler(t *testing.T) {
	cleaner, _ := newCleanupFixture(t)

	require.NoError(t, cleaner.Start())

	done := cleaner.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
