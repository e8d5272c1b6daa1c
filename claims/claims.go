package claims

import (
	"context"
	"fmt"

	"smartbch-indexer/logger"
	"smartbch-indexer/metrics"

	"github.com/pkg/errors"
)

// Namespace groups claims on one kind of work item.
type Namespace string

const (
	BlocksBeingParsed      Namespace = "blocks-being-parsed"
	TxsBeingParsed         Namespace = "txs-being-parsed"
	TxTransfersBeingParsed Namespace = "tx-transfers-being-parsed"
	AddressesBeingCrawled  Namespace = "address-being-crawled"
)

var ErrAlreadyClaimed = errors.New("already claimed")

// Registry is a shared set of keys currently being worked on. A claim is
// advisory: it only excludes callers that go through the same registry.
type Registry interface {
	// Claim adds key to ns if absent and reports whether the caller now holds it.
	Claim(ctx context.Context, ns Namespace, key string) (bool, error)
	// Release removes key from ns. Releasing an unheld key is a no-op.
	Release(ctx context.Context, ns Namespace, key string) error
	IsClaimed(ctx context.Context, ns Namespace, key string) (bool, error)
	Members(ctx context.Context, ns Namespace) ([]string, error)
}

// Do runs fn while holding the claim on (ns, key).
//
// ErrAlreadyClaimed is returned without running fn when the key is held
// elsewhere, and also (wrapped) when the registry cannot be reached. The
// claim is released on every exit path. A panic in fn is recovered and
// returned as an error after the release.
func Do(ctx context.Context, reg Registry, ns Namespace, key string, fn func(context.Context) error) (err error) {
	ok, err := reg.Claim(ctx, ns, key)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(string(ns), "error").Inc()
		logger.Warn("claim %s/%s failed: %s", ns, key, err)
		return errors.Wrapf(ErrAlreadyClaimed, "claim store unavailable: %v", err)
	}
	if !ok {
		metrics.ClaimsTotal.WithLabelValues(string(ns), "contended").Inc()
		return ErrAlreadyClaimed
	}
	metrics.ClaimsTotal.WithLabelValues(string(ns), "acquired").Inc()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while holding %s/%s: %v", ns, key, r)
		}
		// The parent context may already be cancelled, the release must still go out.
		if relErr := reg.Release(context.WithoutCancel(ctx), ns, key); relErr != nil {
			logger.Error("release %s/%s failed: %s", ns, key, relErr)
		}
	}()

	return fn(ctx)
}
