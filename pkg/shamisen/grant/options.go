package grant

import "time"

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecretKey sets the shared secret used for HMAC signing
func WithSecretKey(key string) Option {
	return func(s *Signer) {
		s.secretKey = []byte(key)
	}
}

// WithAccount binds signatures to a storage account name, so a grant issued
// for one account never verifies against another sharing the same key.
func WithAccount(name string) Option {
	return func(s *Signer) {
		s.account = name
	}
}

// WithDefaultTTL sets the validity used when Issue is called with ttl == 0.
// Default is 24 hours.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		s.defaultTTL = ttl
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}
