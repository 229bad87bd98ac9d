package provider

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/internal/events"
	"github.com/bindlehq/bindle/internal/storage/filesystem"
	"github.com/bindlehq/bindle/types"
)

func newTestProvider(t *testing.T) *StorageProvider {
	t.Helper()
	engine, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	return New(engine, events.NoOp())
}

func testParcel() (types.Parcel, []byte) {
	data := []byte("hello world")
	parcel := types.NewParcel("greeting.txt", "text/plain", data)
	return parcel, data
}

func testInvoice(parcels ...types.Parcel) *types.Invoice {
	return &types.Invoice{
		BindleVersion: types.BindleVersion,
		Bindle: types.BindleSpec{
			Name:    "example.com/widget",
			Version: "1.0.0",
		},
		Parcel: parcels,
	}
}

func TestCreateParcelRejectsWhenInvoiceYanked(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	parcel, data := testParcel()
	inv := testInvoice(parcel)
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	require.NoError(t, p.YankInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, "", nil))

	err = p.CreateParcel(ctx, inv.Name(), parcel.Label.SHA256, bytes.NewReader(data))
	assert.ErrorIs(t, err, berr.ErrYanked)

	exists, err := p.ParcelExists(ctx, parcel.Label.SHA256)
	require.NoError(t, err)
	assert.False(t, exists, "a yanked invoice must not accept the parcel upload")
}

func TestCreateParcelRejectsUndeclaredSHA(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	parcel, _ := testParcel()
	inv := testInvoice(parcel)
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	err = p.CreateParcel(ctx, inv.Name(), "0000000000000000000000000000000000000000000000000000000000000000", bytes.NewReader([]byte("anything")))
	assert.ErrorIs(t, err, berr.ErrNotFound)
}

func TestCreateParcelValidatesAgainstDeclaredLabelNotRequest(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	parcel, data := testParcel()
	inv := testInvoice(parcel)
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	// Uploading bytes that don't match the declared digest must fail even though the caller is
	// free to assert any length/content-type out of band - only the invoice's own label governs.
	err = p.CreateParcel(ctx, inv.Name(), parcel.Label.SHA256, bytes.NewReader([]byte("not the declared bytes")))
	assert.ErrorIs(t, err, berr.ErrDigestMismatch)

	// The genuinely declared bytes succeed.
	err = p.CreateParcel(ctx, inv.Name(), parcel.Label.SHA256, bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestCreateParcelRejectsUnknownInvoice(t *testing.T) {
	p := newTestProvider(t)
	parcel, data := testParcel()

	err := p.CreateParcel(context.Background(), "example.com/nonexistent/1.0.0", parcel.Label.SHA256, bytes.NewReader(data))
	assert.ErrorIs(t, err, berr.ErrNotFound)
}

func TestCreateInvoiceRejectsDuplicate(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	inv := testInvoice()
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	_, err = p.CreateInvoice(ctx, testInvoice())
	assert.ErrorIs(t, err, berr.ErrAlreadyExists)
}

func TestYankInvoiceIsIdempotent(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	inv := testInvoice()
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	require.NoError(t, p.YankInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, "first", nil))
	// Second yank of an already-yanked invoice is a no-op success, not an error.
	assert.NoError(t, p.YankInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, "second", nil))

	got, err := p.GetInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, true)
	require.NoError(t, err)
	assert.Equal(t, "first", got.YankedReason)
}

func TestGetInvoiceRejectsYankedWithoutFlag(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	inv := testInvoice()
	_, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)
	require.NoError(t, p.YankInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, "", nil))

	_, err = p.GetInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, false)
	assert.ErrorIs(t, err, berr.ErrYanked)

	got, err := p.GetInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, true)
	require.NoError(t, err)
	assert.True(t, got.IsYanked())
}

func TestMissingParcelsReportsUnuploaded(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	parcel, _ := testParcel()
	inv := testInvoice(parcel)
	resp, err := p.CreateInvoice(ctx, inv)
	require.NoError(t, err)
	require.Len(t, resp.Missing, 1)

	missing, err := p.MissingParcels(ctx, inv.Bindle.Name, inv.Bindle.Version)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, parcel.Label.SHA256, missing[0].SHA256)
}

func TestCreateInvoiceEmitsMissingParcelEvents(t *testing.T) {
	p := newTestProvider(t)
	sink := events.NewRingBuffer(10)
	p.sink = sink

	parcel, _ := testParcel()
	inv := testInvoice(parcel)
	_, err := p.CreateInvoice(context.Background(), inv)
	require.NoError(t, err)

	var kinds []events.Kind
	for _, e := range sink.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{events.KindInvoiceCreated, events.KindMissingParcel}, kinds)
}

func TestCachingProviderInvalidatesCacheOnYank(t *testing.T) {
	engine, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	inner := New(engine, events.NoOp())
	cached, err := NewCaching(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	inv := testInvoice()
	_, err = cached.CreateInvoice(ctx, inv)
	require.NoError(t, err)

	first, err := cached.GetInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, false)
	require.NoError(t, err)
	assert.False(t, first.IsYanked())

	require.NoError(t, cached.YankInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, "because", nil))

	// A cached copy from before the yank must never be served after the invalidation.
	second, err := cached.GetInvoice(ctx, inv.Bindle.Name, inv.Bindle.Version, true)
	require.NoError(t, err)
	assert.True(t, second.IsYanked())
}
