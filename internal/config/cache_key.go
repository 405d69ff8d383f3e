package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// LoginSessionKey holds the jti of the user's live login.
func (r *CacheKeyStruct) LoginSessionKey(userID uuid.UUID) string {
	return fmt.Sprintf("login:%s", userID)
}

// TestPaperKey caches the full paper (questions + options + answer key) of a test.
func (r *CacheKeyStruct) TestPaperKey(testID uuid.UUID) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// RunMetaKey stores the restorable metadata of a live test run.
func (r *CacheKeyStruct) RunMetaKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s:meta", runID)
}

// RunAnswersKey mirrors the selections of a live test run, one field per question.
func (r *CacheKeyStruct) RunAnswersKey(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s:answers", runID)
}

// UserActiveRunKey points at the run a user currently has open for a test.
func (r *CacheKeyStruct) UserActiveRunKey(userID, testID uuid.UUID) string {
	return fmt.Sprintf("user:%s:test:%s:run", userID, testID)
}

// ChatChannel returns the Redis PubSub channel name for a chat channel.
func (r *CacheKeyStruct) ChatChannel(channelID uuid.UUID) string {
	return fmt.Sprintf("chat:%s", channelID)
}

// RateLimitKey counts requests of one client IP within one fixed window.
func (r *CacheKeyStruct) RateLimitKey(scope, ip string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, ip, window)
}

// DashboardKey caches the admin dashboard payload.
func (r *CacheKeyStruct) DashboardKey() string {
	return "admin:dashboard"
}

var CacheKey = NewCacheKeyStruct()
