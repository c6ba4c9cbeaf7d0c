package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/database"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
)

// Profile is the subset of user-service data chat needs for display.
type Profile struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
}

// PlaceholderNickname is shown when the profile lookup fails. Room listing
// must never fail because user-service is down.
const PlaceholderNickname = "(unknown)"

// ProfileLookup resolves partner display names.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID int64) Profile
}

const profileCacheTTL = 10 * time.Minute

// ProfileClient calls user-service's internal profile endpoint, with a Redis
// cache in front of it.
type ProfileClient struct {
	baseURL string
	http    *http.Client
}

func NewProfileClient(baseURL string) *ProfileClient {
	return &ProfileClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Second},
	}
}

func profileCacheKey(userID int64) string {
	return fmt.Sprintf("chat:profile:%d", userID)
}

func (c *ProfileClient) GetProfile(ctx context.Context, userID int64) Profile {
	var cached Profile
	if database.Redis != nil {
		if err := database.CacheGet(profileCacheKey(userID), &cached); err == nil {
			return cached
		}
	}

	profile, err := c.fetch(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Msg("Profile lookup failed, using placeholder")
		return Profile{UserID: userID, Nickname: PlaceholderNickname}
	}

	if database.Redis != nil {
		if err := database.CacheSet(profileCacheKey(userID), profile, profileCacheTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache profile")
		}
	}
	return profile
}

func (c *ProfileClient) fetch(ctx context.Context, userID int64) (Profile, error) {
	url := fmt.Sprintf("%s/internal/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("user-service returned %d for user %d", resp.StatusCode, userID)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, err
	}
	if profile.UserID == 0 {
		profile.UserID = userID
	}
	return profile, nil
}
