package common

import "fmt"

var (
	// Rate limit keys
	ratelimitCounter string = "ratelimit:%s:%s" // feature, userId

	// Sandbox keys
	sandboxPauseLock string = "sandbox:pause:lock:%s" // sandboxId
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Rate limit keys
func (rk *redisKeys) RatelimitCounter(feature, userId string) string {
	return fmt.Sprintf(ratelimitCounter, feature, userId)
}

// Sandbox keys
func (rk *redisKeys) SandboxPauseLock(sandboxId string) string {
	return fmt.Sprintf(sandboxPauseLock, sandboxId)
}
