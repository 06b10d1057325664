package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tranqk/schoolhub/internal/database/testutil"
	"github.com/tranqk/schoolhub/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *gorm.DB, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := newTestClock(time.Now())

	manager, err := NewManager(db, Config{
		Lifetime:    24 * time.Hour,
		RotateAfter: 30 * time.Minute,
		Clock:       clock.Now,
	})
	require.NoError(t, err)

	return manager, db, clock
}

func newGinContext(t *testing.T, cookie string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("User-Agent", "session-test")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	c.Request = req

	return c, w
}

func bootstrapSession(t *testing.T, manager *Manager, cookie string) (*Context, *httptest.ResponseRecorder) {
	t.Helper()

	c, w := newGinContext(t, cookie)
	sess, err := manager.Bootstrap(c)
	require.NoError(t, err)

	attached, ok := FromGin(c)
	require.True(t, ok)
	require.Same(t, sess, attached)

	return sess, w
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{Email: email, FullName: "Test User", IsActive: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == DefaultCookieName {
			return cookie.Value
		}
	}
	return ""
}

func TestBootstrapCreatesAnonymousSession(t *testing.T) {
	manager, db, _ := newTestManager(t)

	sess, w := bootstrapSession(t, manager, "")

	require.False(t, sess.IsAuthenticated())
	require.Empty(t, sess.UserID())
	require.NotEmpty(t, sess.Token())
	require.Equal(t, sess.Token(), sessionCookie(t, w))

	var record models.Session
	require.NoError(t, db.Take(&record, "id = ?", sess.ID()).Error)
	require.Nil(t, record.UserID)
}

func TestBootstrapReusesYoungSession(t *testing.T) {
	manager, _, clock := newTestManager(t)

	first, _ := bootstrapSession(t, manager, "")

	clock.Advance(10 * time.Minute)
	second, _ := bootstrapSession(t, manager, first.Token())

	require.Equal(t, first.ID(), second.ID())
	require.Equal(t, first.Token(), second.Token())
}

func TestRotationReplacesTokenInPlace(t *testing.T) {
	manager, db, clock := newTestManager(t)

	user := createUser(t, db, "rotate@school.test")

	first, _ := bootstrapSession(t, manager, "")
	require.NoError(t, first.BindUser(user.ID))
	require.NoError(t, first.SetFlash("success", "saved"))
	oldToken := first.Token()

	clock.Advance(31 * time.Minute)
	second, w := bootstrapSession(t, manager, oldToken)

	// Same session row, new identifier.
	require.Equal(t, first.ID(), second.ID())
	require.NotEqual(t, oldToken, second.Token())
	require.Equal(t, second.Token(), sessionCookie(t, w))

	// The binding and the queued flash both survive rotation.
	require.True(t, second.IsAuthenticated())
	require.Equal(t, user.ID, second.UserID())

	flashes, err := second.PopFlashes()
	require.NoError(t, err)
	require.Len(t, flashes, 1)
	require.Equal(t, "saved", flashes[0].Text)

	// The old token no longer resolves to the session.
	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("token = ?", oldToken).Count(&count).Error)
	require.Zero(t, count)
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	manager, db, clock := newTestManager(t)

	first, _ := bootstrapSession(t, manager, "")
	oldID := first.ID()

	clock.Advance(25 * time.Hour)
	second, _ := bootstrapSession(t, manager, first.Token())

	require.NotEqual(t, oldID, second.ID())
	require.False(t, second.IsAuthenticated())

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", oldID).Count(&count).Error)
	require.Zero(t, count)
}

func TestBindUserEnforcesSingleActiveSession(t *testing.T) {
	manager, db, _ := newTestManager(t)

	user := createUser(t, db, "single@school.test")

	first, _ := bootstrapSession(t, manager, "")
	require.NoError(t, first.BindUser(user.ID))

	// A login from a second browser removes the first session row.
	second, _ := bootstrapSession(t, manager, "")
	require.NoError(t, second.BindUser(user.ID))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", first.ID()).Count(&count).Error)
	require.Zero(t, count)
}

func TestUnbindResetsToAnonymous(t *testing.T) {
	manager, db, _ := newTestManager(t)

	user := createUser(t, db, "logout@school.test")

	sess, _ := bootstrapSession(t, manager, "")
	require.NoError(t, sess.BindUser(user.ID))
	boundID := sess.ID()
	boundToken := sess.Token()

	require.NoError(t, sess.Unbind())

	require.False(t, sess.IsAuthenticated())
	require.NotEqual(t, boundID, sess.ID())
	require.NotEqual(t, boundToken, sess.Token())

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", boundID).Count(&count).Error)
	require.Zero(t, count)

	// Unbinding an anonymous session is a no-op.
	require.NoError(t, sess.Unbind())
}

func TestFlashQueueIsReadOnce(t *testing.T) {
	manager, _, _ := newTestManager(t)

	sess, _ := bootstrapSession(t, manager, "")
	require.NoError(t, sess.SetFlash("success", "first"))
	require.NoError(t, sess.SetFlash("error", "second"))

	// Flashes survive a round trip through the database.
	reloaded, _ := bootstrapSession(t, manager, sess.Token())

	flashes, err := reloaded.PopFlashes()
	require.NoError(t, err)
	require.Len(t, flashes, 2)
	require.Equal(t, Flash{Kind: "success", Text: "first"}, flashes[0])
	require.Equal(t, Flash{Kind: "error", Text: "second"}, flashes[1])

	again, err := reloaded.PopFlashes()
	require.NoError(t, err)
	require.Empty(t, again)

	// And the cleared queue is what got persisted.
	next, _ := bootstrapSession(t, manager, reloaded.Token())
	final, err := next.PopFlashes()
	require.NoError(t, err)
	require.Empty(t, final)
}

func TestCSRFTokenLifecycle(t *testing.T) {
	manager, _, _ := newTestManager(t)

	sess, _ := bootstrapSession(t, manager, "")

	// Fail closed before any token exists.
	require.False(t, sess.VerifyCSRF(""))
	require.False(t, sess.VerifyCSRF("anything"))

	token, err := sess.CSRFToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Stable across calls and across reloads.
	same, err := sess.CSRFToken()
	require.NoError(t, err)
	require.Equal(t, token, same)

	reloaded, _ := bootstrapSession(t, manager, sess.Token())
	require.True(t, reloaded.VerifyCSRF(token))
	require.False(t, reloaded.VerifyCSRF(token+"x"))
	require.False(t, reloaded.VerifyCSRF(""))
}

func TestIntendedPathIsReadOnce(t *testing.T) {
	manager, _, _ := newTestManager(t)

	sess, _ := bootstrapSession(t, manager, "")
	require.NoError(t, sess.SetIntendedPath("/grades?term=2"))

	path, err := sess.PopIntendedPath()
	require.NoError(t, err)
	require.Equal(t, "/grades?term=2", path)

	path, err = sess.PopIntendedPath()
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestCurrentUserSnapshotCaching(t *testing.T) {
	manager, db, _ := newTestManager(t)

	user := createUser(t, db, "snapshot@school.test")
	var role models.Role
	require.NoError(t, db.Where("name = ?", models.RoleTeacher).Take(&role).Error)
	require.NoError(t, db.Model(user).Association("Roles").Append(&role))

	sess, _ := bootstrapSession(t, manager, "")
	require.NoError(t, sess.BindUser(user.ID))

	snapshot, err := sess.CurrentUser()
	require.NoError(t, err)
	require.Equal(t, user.Email, snapshot.Email)
	require.True(t, snapshot.HasRole(models.RoleTeacher))
	require.True(t, snapshot.HasAnyRole(models.RoleAdmin, models.RoleTeacher))
	require.False(t, snapshot.HasRole(models.RoleAdmin))

	// The snapshot is served from the session until invalidated.
	require.NoError(t, db.Model(user).Update("full_name", "Renamed").Error)

	cached, err := sess.CurrentUser()
	require.NoError(t, err)
	require.Equal(t, snapshot.FullName, cached.FullName)

	require.NoError(t, sess.InvalidateUserCache())

	fresh, err := sess.CurrentUser()
	require.NoError(t, err)
	require.Equal(t, "Renamed", fresh.FullName)
}

func TestCleanupExpiredRemovesOnlyExpiredRows(t *testing.T) {
	manager, db, clock := newTestManager(t)

	stale, _ := bootstrapSession(t, manager, "")
	staleID := stale.ID()

	clock.Advance(25 * time.Hour)
	live, _ := bootstrapSession(t, manager, "")

	removed, err := manager.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, int64(1))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", staleID).Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", live.ID()).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
