// Package config provides the functional-option Config builder shared by
// constructors that take more than a couple of optional knobs. Controller
// and Runtime predate this package and keep their plain-argument
// constructors with Set* overrides; Adapter, added after the rest of the
// tree, uses it from the start since it needs an admin identity and a
// relay confirmation window on top of the logger/clock every other
// component already takes.
package config

import (
	"github.com/jonboulle/clockwork"

	"github.com/randcast/coordinator/params"
)

// Option applies one setting to a Config.
type Option func(*Config)

// Config holds the adapter's constructor-time settings.
type Config struct {
	AdminAddress            string
	Clock                   clockwork.Clock
	RelayConfirmationWindow uint64
	SignatureRewardsWindow  uint64
}

// New returns a Config with the module's defaults applied, then overridden
// by opts in order.
func New(opts ...Option) *Config {
	c := &Config{
		AdminAddress:            params.DefaultAdminAddress,
		Clock:                   clockwork.NewRealClock(),
		RelayConfirmationWindow: params.RelayConfirmationValidationWindow,
		SignatureRewardsWindow:  params.SignatureRewardsValidationWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAdminAddress overrides the address allowed to call SetInitialGroup.
func WithAdminAddress(addr string) Option {
	return func(c *Config) { c.AdminAddress = addr }
}

// WithClock overrides the clock used for time.Duration-based polling in
// code built on top of this Config. Adapter itself is block-height driven
// and does not poll, but tests that embed a Config alongside a Runtime
// benefit from sharing one FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithRelayConfirmationWindow overrides how many blocks a group relay
// confirmation task stays available before it expires.
func WithRelayConfirmationWindow(blocks uint64) Option {
	return func(c *Config) { c.RelayConfirmationWindow = blocks }
}

// WithSignatureRewardsWindow sets Config.SignatureRewardsWindow. Nothing in
// this module reads that field: Adapter credits rewards at fulfillment with
// no challenge window, and Controller uses
// params.SignatureRewardsValidationWindow directly.
func WithSignatureRewardsWindow(blocks uint64) Option {
	return func(c *Config) { c.SignatureRewardsWindow = blocks }
}
