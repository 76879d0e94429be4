// Package retry centralizes the bounded-retry policy applied to transport
// and model calls, parameterized by operation kind.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Kind names the operation class being retried.
type Kind string

const (
	KindFetch    Kind = "fetch"
	KindSend     Kind = "send"
	KindGenerate Kind = "generate"
	KindEmbed    Kind = "embed"
)

// Setting bounds one operation kind.
type Setting struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
}

// Policy holds per-kind retry settings.
type Policy struct {
	settings map[Kind]Setting
}

// NewPolicy returns the default policy: a handful of attempts with short
// exponential backoff, sends allowed one extra attempt.
func NewPolicy() *Policy {
	return &Policy{settings: map[Kind]Setting{
		KindFetch:    {MaxAttempts: 3, InitialInterval: time.Second},
		KindSend:     {MaxAttempts: 4, InitialInterval: 2 * time.Second},
		KindGenerate: {MaxAttempts: 2, InitialInterval: time.Second},
		KindEmbed:    {MaxAttempts: 3, InitialInterval: time.Second},
	}}
}

// WithSetting overrides one kind and returns the policy for chaining.
func (p *Policy) WithSetting(kind Kind, s Setting) *Policy {
	p.settings[kind] = s
	return p
}

// Permanent wraps an error so Do stops retrying immediately. Authentication
// failures are the usual candidate.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op with the kind's bounded backoff. It stops on success, on a
// Permanent-wrapped error, on context cancellation, or once the attempt
// budget is spent; the last error is returned in the failure cases.
func (p *Policy) Do(ctx context.Context, kind Kind, op func() error) error {
	setting, ok := p.settings[kind]
	if !ok {
		setting = Setting{MaxAttempts: 1}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = setting.InitialInterval

	var b backoff.BackOff = expo
	if setting.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, setting.MaxAttempts-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil {
			log.Debug().Str("kind", string(kind)).Int("attempt", attempt).Err(err).
				Msg("operation attempt failed")
		}
		return err
	}, b)
}
