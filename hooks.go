package splitpay

import (
	"context"
	"time"
)

// ============================================================================
// Coordinator Hook Context Types
// ============================================================================

// VerifyContext is passed to hooks that run before a proof is verified.
type VerifyContext struct {
	Ctx       context.Context
	Request   Request
	Timestamp time.Time
}

// GrantContext describes a released protected resource.
type GrantContext struct {
	Ctx       context.Context
	Request   Request
	Record    *PaymentRecord
	Replayed  bool
	Timestamp time.Time
}

// DenyContext describes a rejected proof.
type DenyContext struct {
	Ctx       context.Context
	Request   Request
	Error     error
	Timestamp time.Time
}

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the proof is rejected with the given Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeVerifyHook runs before a proof is verified. Returning an error does
// not abort; only a result with Abort set does.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterGrantHook runs after a proof was accepted.
type AfterGrantHook func(GrantContext)

// OnDenyHook runs after a proof was rejected.
type OnDenyHook func(DenyContext)

// OnBeforeVerify registers a hook that runs before verification.
func (c *Coordinator) OnBeforeVerify(hook BeforeVerifyHook) *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeVerifyHooks = append(c.beforeVerifyHooks, hook)
	return c
}

// OnGranted registers a hook that runs after a grant.
func (c *Coordinator) OnGranted(hook AfterGrantHook) *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterGrantHooks = append(c.afterGrantHooks, hook)
	return c
}

// OnDenied registers a hook that runs after a denial.
func (c *Coordinator) OnDenied(hook OnDenyHook) *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDenyHooks = append(c.onDenyHooks, hook)
	return c
}
