package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ProgressKey(workflowID uuid.UUID) string {
	return fmt.Sprintf("workflow:progress:%s", workflowID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func SearchResultKey(userID uuid.UUID, queryHash string) string {
	return fmt.Sprintf("board:search:%s:%s", userID, queryHash)
}

func UserChannelKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:jobs", userID)
}
