// Package provider implements the uniform capability surface of spec §4.D over a
// internal/storage.Engine, plus the missing-parcel calculator of spec §4.G, which only needs the
// engine's parcel-existence probe.
package provider

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/internal/canonical"
	"github.com/bindlehq/bindle/internal/events"
	"github.com/bindlehq/bindle/internal/storage"
	"github.com/bindlehq/bindle/types"
)

// Provider is the capability set spec §4.D names: create_invoice, get_invoice, yank_invoice,
// create_parcel, get_parcel, parcel_exists.
type Provider interface {
	CreateInvoice(ctx context.Context, inv *types.Invoice) (*types.InvoiceCreateResponse, error)
	GetInvoice(ctx context.Context, name, version string, yankedOK bool) (*types.Invoice, error)
	YankInvoice(ctx context.Context, name, version, reason string, yankSigs []types.Signature) error
	CreateParcel(ctx context.Context, bindleID string, sha256 string, r io.Reader) error
	GetParcel(ctx context.Context, sha256 string) (io.ReadCloser, error)
	ParcelExists(ctx context.Context, sha256 string) (bool, error)
	MissingParcels(ctx context.Context, name, version string) ([]types.Label, error)
}

// StorageProvider is the default Provider, backed directly by a storage.Engine with no caching.
// Wrap it in CachingProvider (cache.go) for the LRU-fronted variant spec §4.D also calls for.
type StorageProvider struct {
	engine  storage.Engine
	sink    events.Sink
	onYank  func(identity string)
	onWrite func(sha string)
}

// New returns a StorageProvider over engine, emitting events to sink (events.NoOp() is a valid
// no-op sink).
func New(engine storage.Engine, sink events.Sink) *StorageProvider {
	if sink == nil {
		sink = events.NoOp()
	}
	return &StorageProvider{engine: engine, sink: sink}
}

// CreateInvoice implements Provider. It validates and persists the invoice, then computes the
// missing-parcel list, emitting InvoiceCreated followed by one MissingParcel event per absent
// parcel, preserving per-request order (spec §4.I, §5).
func (p *StorageProvider) CreateInvoice(ctx context.Context, inv *types.Invoice) (*types.InvoiceCreateResponse, error) {
	if err := canonical.Validate(inv); err != nil {
		return nil, err
	}

	identity := canonical.Identity(inv)
	data, err := canonical.Encode(inv)
	if err != nil {
		return nil, err
	}

	if err := p.engine.WriteInvoice(ctx, identity, data); err != nil {
		return nil, err
	}

	p.sink.Emit(events.InvoiceCreated(inv.Name()))

	missing, err := p.missingFor(ctx, inv)
	if err != nil {
		return nil, err
	}
	for _, label := range missing {
		p.sink.Emit(events.MissingParcel(inv.Name(), label.SHA256))
	}

	return &types.InvoiceCreateResponse{Invoice: *inv, Missing: missing}, nil
}

// GetInvoice implements Provider. If yankedOK is false and the stored invoice is yanked, returns
// berr.ErrYanked so the wire handler can translate it to a 403 per spec §4.H.
func (p *StorageProvider) GetInvoice(ctx context.Context, name, version string, yankedOK bool) (*types.Invoice, error) {
	identity := canonical.IdentityFromParts(name, version)
	data, err := p.engine.ReadInvoice(ctx, identity)
	if err != nil {
		return nil, err
	}

	inv, err := canonical.Decode(data)
	if err != nil {
		return nil, err
	}

	if inv.IsYanked() && !yankedOK {
		return nil, berr.ErrYanked
	}

	return inv, nil
}

// YankInvoice implements Provider: the single mutation storage.Engine allows. It loads the
// invoice, flips `yanked` to true (never back to false), appends the provided yank-signatures,
// and rewrites atomically. A DELETE on an already-yanked invoice is a no-op success (spec §4.H).
func (p *StorageProvider) YankInvoice(ctx context.Context, name, version, reason string, yankSigs []types.Signature) error {
	identity := canonical.IdentityFromParts(name, version)
	data, err := p.engine.ReadInvoice(ctx, identity)
	if err != nil {
		return err
	}

	inv, err := canonical.Decode(data)
	if err != nil {
		return err
	}

	if inv.IsYanked() {
		return nil
	}

	yes := true
	inv.Yanked = &yes
	if reason != "" {
		inv.YankedReason = reason
	}
	inv.YankedSignature = append(inv.YankedSignature, yankSigs...)

	newData, err := canonical.Encode(inv)
	if err != nil {
		return err
	}

	if err := p.engine.RewriteYankedInvoice(ctx, identity, newData); err != nil {
		return err
	}

	p.sink.Emit(events.InvoiceYanked(inv.Name()))
	return nil
}

// CreateParcel implements Provider. Per the open question in spec §9, uploading a parcel for an
// invoice identity that has never been created is rejected with berr.ErrNotFound (the
// recommended, conservative option) rather than accepted as a pre-seed. A yanked invoice rejects
// every parcel upload that references it (spec §4.H/§8), which GetInvoice's yankedOK=false call
// already enforces by returning berr.ErrYanked. The label validated against the upload is the one
// the invoice itself declared at creation time, never one synthesized from the request: spec §5
// requires bytes to hash to the declared label, not to a value re-derived from the same request
// that is supposedly being checked.
func (p *StorageProvider) CreateParcel(ctx context.Context, bindleID string, sha256 string, r io.Reader) error {
	name, version := splitBindleID(bindleID)
	inv, err := p.GetInvoice(ctx, name, version, false)
	if err != nil {
		return err
	}

	label := declaredLabel(inv, sha256)
	if label == nil {
		return errors.Wrapf(berr.ErrNotFound, "parcel %q is not declared by invoice %q", sha256, bindleID)
	}

	if err := p.engine.WriteParcel(ctx, label.SHA256, label.MediaType, label.Size, r); err != nil {
		return err
	}

	p.sink.Emit(events.ParcelCreated(bindleID, label.SHA256))
	return nil
}

// declaredLabel returns the invoice's own [[parcel]] label matching sha256, or nil if the invoice
// never declared a parcel with that digest.
func declaredLabel(inv *types.Invoice, sha256 string) *types.Label {
	for i := range inv.Parcel {
		if inv.Parcel[i].Label.SHA256 == sha256 {
			return &inv.Parcel[i].Label
		}
	}
	return nil
}

// GetParcel implements Provider.
func (p *StorageProvider) GetParcel(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	return p.engine.ReadParcel(ctx, sha256)
}

// ParcelExists implements Provider.
func (p *StorageProvider) ParcelExists(ctx context.Context, sha256 string) (bool, error) {
	return p.engine.ParcelExists(ctx, sha256)
}

// MissingParcels implements spec §4.G: for each label.sha256 in the invoice's parcels, probe the
// engine and return full label records (not just hashes) for those absent. Yanked invoices are
// never processed.
func (p *StorageProvider) MissingParcels(ctx context.Context, name, version string) ([]types.Label, error) {
	inv, err := p.GetInvoice(ctx, name, version, false)
	if err != nil {
		return nil, err
	}
	return p.missingFor(ctx, inv)
}

func (p *StorageProvider) missingFor(ctx context.Context, inv *types.Invoice) ([]types.Label, error) {
	var missing []types.Label
	for _, parcel := range inv.Parcel {
		exists, err := p.engine.ParcelExists(ctx, parcel.Label.SHA256)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, parcel.Label)
		}
	}
	return missing, nil
}
