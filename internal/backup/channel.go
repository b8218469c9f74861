package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrAggregateNotFound is returned by transports when no aggregate exists
// under the requested address and key.
var ErrAggregateNotFound = errors.New("backup: aggregate not found")

// Transport writes and reads named aggregates on the backup network. The
// identity a transport is authenticated as decides whose signature goes on
// the wire; the address parameter decides whose namespace is written.
type Transport interface {
	// CreateAggregate writes content under key in the namespace of address
	// and returns the item hash of the stored message.
	CreateAggregate(ctx context.Context, key string, content any, address string) (string, error)
	// FetchAggregate reads the aggregate under key in the namespace of
	// address into out, or returns ErrAggregateNotFound.
	FetchAggregate(ctx context.Context, address, key string, out any) error
}

var backupOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backup_ops_total",
		Help: "Total number of backup channel operations, by op and outcome.",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(backupOps)
}

// Defaults for the handshake and the snapshot aggregate.
const (
	defaultChallenge    = "go-chat-data"
	defaultAggregateKey = "chat-data"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	challenge    string
	aggregateKey string
	limiter      *rate.Limiter
}

// WithChallenge overrides the fixed message the primary identity signs.
// Changing it derives a different delegate, orphaning earlier grants.
func WithChallenge(msg string) Option {
	return func(o *options) { o.challenge = msg }
}

// WithAggregateKey overrides the key the snapshot is stored under.
func WithAggregateKey(key string) Option {
	return func(o *options) { o.aggregateKey = key }
}

// WithSaveLimiter overrides the rate limiter applied to Save.
func WithSaveLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// Channel is an open backup channel: an authorized delegate writing into
// the primary identity's namespace. Save and Fetch are strictly
// best-effort and never surface transport failures to the caller.
type Channel struct {
	owner        string
	delegate     Transport
	aggregateKey string
	limiter      *rate.Limiter
	log          zerolog.Logger
}

// Open performs the two-stage setup.
//
// Stage one derives the delegate: the primary signs the fixed challenge
// and the signature seeds the delegate key, which dial turns into an
// authenticated transport.
//
// Stage two verifies the authorization registry in the primary's namespace
// grants the delegate aggregate-write capability on the snapshot key. A
// missing, unreadable or incomplete registry is not fatal: it is created
// or extended in place via the primary transport.
func Open(ctx context.Context, signer Signer, primary Transport, dial func(key *DelegateKey) (Transport, error), log zerolog.Logger, opts ...Option) (*Channel, error) {
	o := options{
		challenge:    defaultChallenge,
		aggregateKey: defaultAggregateKey,
		limiter:      rate.NewLimiter(rate.Limit(1), 3),
	}
	for _, opt := range opts {
		opt(&o)
	}

	sig, err := signer.SignMessage(ctx, o.challenge)
	if err != nil {
		return nil, fmt.Errorf("backup: sign challenge: %w", err)
	}
	key, err := DeriveDelegate(sig)
	if err != nil {
		return nil, err
	}
	dk := &DelegateKey{Key: key, Address: DelegateAddress(key)}

	delegate, err := dial(dk)
	if err != nil {
		return nil, fmt.Errorf("backup: dial delegate transport: %w", err)
	}

	if err := ensureAuthorized(ctx, primary, signer.Address(), dk.Address, o.aggregateKey, log); err != nil {
		return nil, err
	}

	return &Channel{
		owner:        signer.Address(),
		delegate:     delegate,
		aggregateKey: o.aggregateKey,
		limiter:      o.limiter,
		log:          log,
	}, nil
}

// ensureAuthorized makes the registry grant the delegate write capability
// on aggregateKey, provisioning or extending the registry as needed.
func ensureAuthorized(ctx context.Context, primary Transport, owner, delegate, aggregateKey string, log zerolog.Logger) error {
	var settings SecuritySettings
	if err := primary.FetchAggregate(ctx, owner, SecurityKey, &settings); err != nil {
		// Registry missing or unreadable: start a fresh one holding just
		// this grant.
		log.Warn().Err(err).Msg("authorization registry unavailable, provisioning a new one")
		settings = SecuritySettings{}
		settings.Grant(delegate, OperationAggregate, aggregateKey)
		if _, err := primary.CreateAggregate(ctx, SecurityKey, &settings, owner); err != nil {
			return fmt.Errorf("backup: provision authorization registry: %w", err)
		}
		return nil
	}

	if settings.Permits(delegate, OperationAggregate, aggregateKey) {
		return nil
	}

	settings.Grant(delegate, OperationAggregate, aggregateKey)
	if _, err := primary.CreateAggregate(ctx, SecurityKey, &settings, owner); err != nil {
		return fmt.Errorf("backup: extend authorization registry: %w", err)
	}
	log.Info().Str("delegate", delegate).Msg("delegate authorized for backup writes")
	return nil
}

// Save writes content as the snapshot aggregate. Backup is strictly
// best-effort: rate shedding, network and permission failures are logged
// and swallowed, never returned.
func (c *Channel) Save(ctx context.Context, content any) {
	if !c.limiter.Allow() {
		backupOps.WithLabelValues("save", "shed").Inc()
		c.log.Debug().Msg("backup save shed by rate limiter")
		return
	}
	hash, err := c.delegate.CreateAggregate(ctx, c.aggregateKey, content, c.owner)
	if err != nil {
		backupOps.WithLabelValues("save", "error").Inc()
		c.log.Error().Err(err).Msg("backup save failed")
		return
	}
	backupOps.WithLabelValues("save", "ok").Inc()
	c.log.Info().Str("item_hash", hash).Msg("backup saved")
}

// Fetch reads the snapshot aggregate into out and reports whether out was
// populated. Any failure, including an absent aggregate, is logged and
// yields false so the caller always has a usable (possibly empty) result.
func (c *Channel) Fetch(ctx context.Context, out any) bool {
	if err := c.delegate.FetchAggregate(ctx, c.owner, c.aggregateKey, out); err != nil {
		backupOps.WithLabelValues("fetch", "error").Inc()
		c.log.Error().Err(err).Msg("backup fetch failed")
		return false
	}
	backupOps.WithLabelValues("fetch", "ok").Inc()
	return true
}
