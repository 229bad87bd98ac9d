// Package tests drives the whole stack — client, server, provider, storage, search, signing —
// end to end over an in-process HTTP server, the way the teacher's own integration suite drove a
// real bindle-server process, but without needing a separate binary on PATH.
package tests

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/bindlehq/bindle/client"
	"github.com/bindlehq/bindle/internal/auth"
	"github.com/bindlehq/bindle/internal/events"
	"github.com/bindlehq/bindle/internal/provider"
	"github.com/bindlehq/bindle/internal/search"
	"github.com/bindlehq/bindle/internal/storage/filesystem"
	"github.com/bindlehq/bindle/keyring"
	"github.com/bindlehq/bindle/server"
	"github.com/bindlehq/bindle/types"
)

const testAuthor = `Testy McTestface <"testy@test.face">`
const testAuthor2 = `Elon Testla <"elon@testla.com">`

type testController struct {
	Client *client.Client
}

// newTestController boots a real server.Server, backed by a fresh filesystem storage root under
// t.TempDir(), wrapped in an h2c handler so client.Client's http2.Transport (AllowHTTP: true) can
// talk to it over plain HTTP without a TLS listener.
func newTestController(t *testing.T) testController {
	t.Helper()

	engine, err := filesystem.New(t.TempDir())
	if err != nil {
		t.Fatalf("unable to create storage engine: %s", err)
	}

	p := provider.New(engine, events.NoOp())
	idx := search.New()
	srv := server.New(p, idx, nil, server.WithAuthenticator(auth.New(nil, true)))

	ts := httptest.NewServer(h2c.NewHandler(srv.Handler(), &http2.Server{}))
	t.Cleanup(ts.Close)

	bindleClient, err := client.New(ts.URL, nil)
	if err != nil {
		t.Fatalf("unable to build client: %s", err)
	}

	return testController{Client: bindleClient}
}

func newInvoice(name, version string, parcels ...types.Parcel) types.Invoice {
	return types.Invoice{
		BindleVersion: types.BindleVersion,
		Bindle: types.BindleSpec{
			Name:    name,
			Version: version,
			Authors: []string{testAuthor},
		},
		Parcel: parcels,
	}
}

func TestSuccessful(t *testing.T) {
	controller := newTestController(t)

	data := []byte("hello parcel")
	parcel := types.NewParcel("parcel", "application/octet-stream", data)
	inv := newInvoice("enterprise.biz/successful", "1.0.0", parcel)

	if _, err := controller.Client.CreateInvoice(inv); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}

	if err := controller.Client.CreateParcel(inv.Name(), parcel.Label.SHA256, data); err != nil {
		t.Fatalf("unable to create parcel: %s", err)
	}

	serverData, err := controller.Client.GetParcel(inv.Name(), parcel.Label.SHA256)
	if err != nil {
		t.Fatalf("unable to fetch parcel from server: %s", err)
	}
	if !bytes.Equal(data, serverData) {
		t.Fatalf("got back unexpected parcel data\nexpected: %s\ngot: %s", data, serverData)
	}

	if err := controller.Client.YankInvoice(inv.Name()); err != nil {
		t.Fatalf("unable to yank invoice: %s", err)
	}

	if _, err := controller.Client.GetInvoice(inv.Name()); err == nil {
		t.Fatal("should not be able to get a yanked invoice")
	}

	if _, err := controller.Client.GetYankedInvoice(inv.Name()); err != nil {
		t.Fatalf("should be able to get a yanked invoice: %s", err)
	}
}

func TestCreateParcelAfterYankRejected(t *testing.T) {
	controller := newTestController(t)

	data := []byte("hello parcel")
	parcel := types.NewParcel("parcel", "application/octet-stream", data)
	inv := newInvoice("enterprise.biz/yank_then_upload", "1.0.0", parcel)

	if _, err := controller.Client.CreateInvoice(inv); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}
	if err := controller.Client.YankInvoice(inv.Name()); err != nil {
		t.Fatalf("unable to yank invoice: %s", err)
	}

	if err := controller.Client.CreateParcel(inv.Name(), parcel.Label.SHA256, data); err == nil {
		t.Fatal("uploading a parcel for a yanked invoice should be rejected")
	}

	if _, err := controller.Client.GetParcel(inv.Name(), parcel.Label.SHA256); err == nil {
		t.Fatal("a parcel rejected post-yank should never have been stored")
	}
}

func TestYankWithReason(t *testing.T) {
	controller := newTestController(t)

	inv := newInvoice("enterprise.biz/yank_reason", "1.0.0")
	if _, err := controller.Client.CreateInvoice(inv); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}

	if err := controller.Client.YankInvoiceWithReason(inv.Name(), "superseded by 2.0.0"); err != nil {
		t.Fatalf("unable to yank invoice: %s", err)
	}

	yanked, err := controller.Client.GetYankedInvoice(inv.Name())
	if err != nil {
		t.Fatalf("should be able to get a yanked invoice: %s", err)
	}
	if yanked.YankedReason != "superseded by 2.0.0" {
		t.Fatalf("expected yanked reason to be recorded, got %q", yanked.YankedReason)
	}
}

func TestAlreadyCreatedNoMissing(t *testing.T) {
	controller := newTestController(t)

	data1 := []byte("one")
	data2 := []byte("two")
	p1 := types.NewParcel("one", "application/octet-stream", data1)
	p2 := types.NewParcel("two", "application/octet-stream", data2)

	inv := newInvoice("enterprise.biz/shared", "2.0.0", p1, p2)
	if _, err := controller.Client.CreateInvoice(inv); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}
	if err := controller.Client.CreateParcel(inv.Name(), p1.Label.SHA256, data1); err != nil {
		t.Fatalf("unable to create parcel: %s", err)
	}
	if err := controller.Client.CreateParcel(inv.Name(), p2.Label.SHA256, data2); err != nil {
		t.Fatalf("unable to create parcel: %s", err)
	}

	// A second invoice reusing the same parcel content-addresses to the same already-uploaded
	// bytes, so creating it should report zero missing parcels.
	inv2 := newInvoice("enterprise.biz/shared", "2.0.1", p1)
	resp, err := controller.Client.CreateInvoice(inv2)
	if err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}
	if len(resp.Missing) != 0 {
		t.Fatalf("expected no missing parcels, got %d", len(resp.Missing))
	}
}

func TestMissing(t *testing.T) {
	controller := newTestController(t)

	p1 := types.NewParcel("one", "application/octet-stream", []byte("one"))
	p2 := types.NewParcel("two", "application/octet-stream", []byte("two"))
	inv := newInvoice("enterprise.biz/missing", "1.0.0", p1, p2)

	if _, err := controller.Client.CreateInvoice(inv); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}

	missing, err := controller.Client.GetMissingParcels(inv.Name())
	if err != nil {
		t.Fatalf("should have been able to get missing parcels: %s", err)
	}
	if len(missing.Missing) != len(inv.Parcel) {
		t.Fatalf("expected %d missing parcels, got %d", len(inv.Parcel), len(missing.Missing))
	}
}

func TestCreateParcelWithoutInvoiceRejected(t *testing.T) {
	controller := newTestController(t)

	data := []byte("orphan")
	parcel := types.NewParcel("orphan", "application/octet-stream", data)

	err := controller.Client.CreateParcel("enterprise.biz/never-created/1.0.0", parcel.Label.SHA256, data)
	if err == nil {
		t.Fatal("expected an error creating a parcel for a nonexistent invoice")
	}
}

func TestQuery(t *testing.T) {
	controller := newTestController(t)

	if _, err := controller.Client.CreateInvoice(newInvoice("enterprise.biz/query_target", "1.0.0")); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}
	if _, err := controller.Client.CreateInvoice(newInvoice("enterprise.biz/other", "1.0.0")); err != nil {
		t.Fatalf("unable to create invoice: %s", err)
	}

	matches, err := controller.Client.QueryInvoices(types.QueryOptions{Query: strPtr("query_target")})
	if err != nil {
		t.Fatalf("unable to query invoices: %s", err)
	}
	if matches.Total != 1 {
		t.Fatalf("expected exactly one match, got %d", matches.Total)
	}
	if len(matches.Invoices) != 1 || matches.Invoices[0].Bindle.Name != "enterprise.biz/query_target" {
		t.Fatalf("unexpected query result: %+v", matches.Invoices)
	}
}

func strPtr(s string) *string { return &s }

func TestSignVerify(t *testing.T) {
	sigKey, privKey, err := keyring.GenerateSignatureKey(testAuthor, types.RoleCreator)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("something very important")
	importantParcel := types.NewParcel("importantfile", "application/important", data)

	invoice := &types.Invoice{
		BindleVersion: types.BindleVersion,
		Bindle: types.BindleSpec{
			Name:    "importantproj",
			Version: "0.1.0",
			Authors: []string{testAuthor},
		},
		Parcel: []types.Parcel{importantParcel},
	}

	if err := invoice.GenerateSignature(testAuthor, types.RoleCreator, sigKey, privKey); err != nil {
		t.Fatal(err)
	}
	if err := invoice.VerifySignatures([]types.SignatureKey{*sigKey}); err != nil {
		t.Fatal(err)
	}
}

func TestSignVerifyWrongKey(t *testing.T) {
	sigKey, privKey, err := keyring.GenerateSignatureKey(testAuthor, types.RoleCreator)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("something very important")
	importantParcel := types.NewParcel("importantfile", "application/important", data)

	invoice := &types.Invoice{
		BindleVersion: types.BindleVersion,
		Bindle: types.BindleSpec{
			Name:    "importantproj",
			Version: "0.1.0",
			Authors: []string{testAuthor},
		},
		Parcel: []types.Parcel{importantParcel},
	}

	if err := invoice.GenerateSignature(testAuthor, types.RoleCreator, sigKey, privKey); err != nil {
		t.Fatal(err)
	}

	sigKey2, _, err := keyring.GenerateSignatureKey(testAuthor, types.RoleCreator)
	if err != nil {
		t.Fatal(err)
	}

	if err := invoice.VerifySignatures([]types.SignatureKey{*sigKey2}); err == nil {
		t.Fatal(errors.New("did not get a signing error, should have"))
	}
}

func TestSignVerifyMissingKey(t *testing.T) {
	sigKey, privKey, err := keyring.GenerateSignatureKey(testAuthor, types.RoleCreator)
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("something very important")
	importantParcel := types.NewParcel("importantfile", "application/important", data)

	invoice := &types.Invoice{
		BindleVersion: types.BindleVersion,
		Bindle: types.BindleSpec{
			Name:    "importantproj",
			Version: "0.1.0",
			Authors: []string{testAuthor},
		},
		Parcel: []types.Parcel{importantParcel},
	}

	if err := invoice.GenerateSignature(testAuthor, types.RoleCreator, sigKey, privKey); err != nil {
		t.Fatal(err)
	}

	sigKey2, _, err := keyring.GenerateSignatureKey(testAuthor2, types.RoleCreator)
	if err != nil {
		t.Fatal(err)
	}

	if err := invoice.VerifySignatures([]types.SignatureKey{*sigKey2}); err == nil {
		t.Fatal(errors.New("did not get a signing error, should have"))
	}
}
