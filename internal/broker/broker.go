package broker

import (
	"context"
	"os"
	"strings"

	"main/internal/schema"
)

// OrderRef identifies a child order at a broker.
type OrderRef struct {
	Broker        string
	BrokerOrderID string
}

// Credentials is opaque secret material resolved at call time. It is never
// logged; log lines carry broker-assigned order ids only.
type Credentials struct {
	Key    string
	Secret string
}

// SecretsProvider resolves a credential reference into live material. It is
// injected into adapter constructors so tests can substitute fakes.
type SecretsProvider interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// StaticSecrets serves credentials from a fixed map, keyed by reference.
type StaticSecrets map[string]Credentials

// Resolve implements SecretsProvider.
func (s StaticSecrets) Resolve(_ context.Context, ref string) (Credentials, error) {
	creds, ok := s[ref]
	if !ok {
		return Credentials{}, ErrUnknownSecretRef
	}
	return creds, nil
}

// EnvSecrets resolves credential references from the process environment:
// ref "alpaca" reads <PREFIX>_ALPACA_KEY and <PREFIX>_ALPACA_SECRET.
type EnvSecrets struct {
	Prefix string
}

// Resolve implements SecretsProvider.
func (s EnvSecrets) Resolve(_ context.Context, ref string) (Credentials, error) {
	base := s.Prefix + "_" + strings.ToUpper(ref)
	creds := Credentials{
		Key:    os.Getenv(base + "_KEY"),
		Secret: os.Getenv(base + "_SECRET"),
	}
	if creds.Key == "" || creds.Secret == "" {
		return Credentials{}, ErrUnknownSecretRef
	}
	return creds, nil
}

// Broker normalizes heterogeneous broker APIs into one submission,
// cancellation and fill-reporting surface.
type Broker interface {
	// Name returns the broker identifier used in order records and logs.
	Name() string

	// Submit places a child order and returns the broker's reference.
	Submit(ctx context.Context, child schema.ChildOrder) (OrderRef, error)

	// Cancel requests cancellation. Cancellation is advisory until the
	// broker acknowledges it; a racing fill may still arrive.
	Cancel(ctx context.Context, ref OrderRef) error

	// StreamFills returns a long-lived channel of fill events for the
	// account. The channel closes when the stream ends.
	StreamFills(ctx context.Context) (<-chan schema.Fill, error)

	// OpenOrders lists broker order ids still open at the broker, used for
	// startup reconciliation against the ledger.
	OpenOrders(ctx context.Context) ([]string, error)
}
