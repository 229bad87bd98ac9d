package provider

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bindlehq/bindle/types"
)

// CachingProvider wraps a Provider with an in-memory LRU of decoded, non-yanked invoices (spec
// §4.D), fronting the storage engine's disk reads for the hot path of repeated GETs on the same
// bindle. Writes and yanks always go through and invalidate the cached entry.
type CachingProvider struct {
	inner Provider
	cache *lru.Cache[string, types.Invoice]
}

// NewCaching wraps inner with an LRU cache holding up to size invoices.
func NewCaching(inner Provider, size int) (*CachingProvider, error) {
	c, err := lru.New[string, types.Invoice](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: c}, nil
}

func cacheKey(name, version string) string {
	return name + "/" + version
}

// CreateInvoice invalidates any stale cache entry before delegating, in case a prior yank or
// failed write left one behind.
func (c *CachingProvider) CreateInvoice(ctx context.Context, inv *types.Invoice) (*types.InvoiceCreateResponse, error) {
	c.cache.Remove(cacheKey(inv.Bindle.Name, inv.Bindle.Version))
	resp, err := c.inner.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	c.cache.Add(cacheKey(inv.Bindle.Name, inv.Bindle.Version), resp.Invoice)
	return resp, nil
}

// GetInvoice serves from cache only for the non-yanked-allowed common case; a yankedOK request
// always goes to the engine so a yank is observed immediately even if the cache hasn't caught up.
func (c *CachingProvider) GetInvoice(ctx context.Context, name, version string, yankedOK bool) (*types.Invoice, error) {
	if !yankedOK {
		if inv, ok := c.cache.Get(cacheKey(name, version)); ok {
			cp := inv
			return &cp, nil
		}
	}

	inv, err := c.inner.GetInvoice(ctx, name, version, yankedOK)
	if err != nil {
		return nil, err
	}
	if !inv.IsYanked() {
		c.cache.Add(cacheKey(name, version), *inv)
	}
	return inv, nil
}

// YankInvoice drops the cache entry so subsequent reads observe the yank rather than a stale copy.
func (c *CachingProvider) YankInvoice(ctx context.Context, name, version, reason string, yankSigs []types.Signature) error {
	c.cache.Remove(cacheKey(name, version))
	return c.inner.YankInvoice(ctx, name, version, reason, yankSigs)
}

func (c *CachingProvider) CreateParcel(ctx context.Context, bindleID string, sha256 string, r io.Reader) error {
	return c.inner.CreateParcel(ctx, bindleID, sha256, r)
}

func (c *CachingProvider) GetParcel(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	return c.inner.GetParcel(ctx, sha256)
}

func (c *CachingProvider) ParcelExists(ctx context.Context, sha256 string) (bool, error) {
	return c.inner.ParcelExists(ctx, sha256)
}

func (c *CachingProvider) MissingParcels(ctx context.Context, name, version string) ([]types.Label, error) {
	return c.inner.MissingParcels(ctx, name, version)
}

var _ Provider = (*CachingProvider)(nil)
