package bdevolume

import "bdevolume/internal/bdeprotector"

// Option configures a Volume at construction time. The functional-options
// pattern here is the one ambient concern the teacher codebase has no
// analogue for (it configures itself through an in-memory GUI/CLI state
// struct, not a composable options layer), so it is adopted from the
// broader pack instead.
type Option func(*config)

type config struct {
	cacheCapacity  int
	protectorOrder func([]*bdeprotector.Protector) []*bdeprotector.Protector
}

func defaultConfig() *config {
	return &config{
		cacheCapacity:  0, // bdeio default
		protectorOrder: bdeprotector.Order,
	}
}

// WithSectorCacheCapacity overrides the default decrypted-sector cache
// size.
func WithSectorCacheCapacity(n int) Option {
	return func(c *config) { c.cacheCapacity = n }
}

// WithProtectorOrder overrides the default protector-try order
// (recovery password, then password, then startup key, then clear key).
// Exposed because §6's Open Question on protector precedence resolves to
// an overridable default rather than a hardcoded policy.
func WithProtectorOrder(order func([]*bdeprotector.Protector) []*bdeprotector.Protector) Option {
	return func(c *config) { c.protectorOrder = order }
}
