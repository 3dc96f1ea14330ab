package manager

import (
	"time"

	"scriptbox/internal/config"
	"scriptbox/internal/sandbox"
)

// policyFromConfig materializes the configured default execution policy.
// Unset values fall back to the sandbox defaults.
func policyFromConfig(c config.SandboxConfig) sandbox.Config {
	policy := sandbox.DefaultConfig()

	if c.MaxExecutionTime > 0 {
		policy.MaxExecutionTime = time.Duration(c.MaxExecutionTime) * time.Second
	}
	if c.MaxMemoryMB > 0 {
		policy.MaxMemoryMB = c.MaxMemoryMB
	}
	if c.MaxOutputBytes > 0 {
		policy.MaxOutputBytes = c.MaxOutputBytes
	}
	if c.MaxSourceLength > 0 {
		policy.MaxSourceLength = c.MaxSourceLength
	}
	if len(c.AllowedModules) > 0 {
		policy.AllowedModules = append([]string(nil), c.AllowedModules...)
	}
	if len(c.BlockedModules) > 0 {
		policy.BlockedModules = append([]string(nil), c.BlockedModules...)
	}
	if len(c.BlockedCallables) > 0 {
		policy.BlockedCallables = append([]string(nil), c.BlockedCallables...)
	}
	policy.EnableDebugging = c.EnableDebugging
	policy.EnableFileAccess = c.EnableFileAccess
	policy.EnableNetworkAccess = c.EnableNetAccess

	return policy
}
