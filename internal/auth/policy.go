package auth

// Operation names one of the wire protocol's mutating or read actions, for policy decisions.
type Operation string

const (
	OpCreateInvoice Operation = "create-invoice"
	OpYankInvoice   Operation = "yank-invoice"
	OpCreateParcel  Operation = "create-parcel"
	OpReadInvoice   Operation = "read-invoice"
	OpReadParcel    Operation = "read-parcel"
	OpQuery         Operation = "query"
)

// writeOps is the subset of Operation that policies may restrict; read operations are always
// permitted once authentication (if any) succeeds, matching the teacher's integration tests which
// run entirely unauthenticated against a local server.
var writeOps = map[Operation]bool{
	OpCreateInvoice: true,
	OpYankInvoice:   true,
	OpCreateParcel:  true,
}

// Policy decides whether an Identity may perform an Operation. The zero Policy permits everything,
// matching spec §4.J's default-open posture for a single-tenant local server.
type Policy struct {
	// RequiredRole, if non-empty, is the role an Identity must carry to perform a write
	// operation. Read operations are never gated.
	RequiredRole string
}

// Allow reports whether id may perform op.
func (p Policy) Allow(id Identity, op Operation) bool {
	if !writeOps[op] {
		return true
	}
	if p.RequiredRole == "" {
		return true
	}
	return id.HasRole(p.RequiredRole)
}
