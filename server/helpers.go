package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

// decodeInvoice reads and strictly decodes a canonical invoice body, capping it at maxBytes.
func decodeInvoice(r *http.Request, maxBytes int64) (*types.Invoice, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBytes)
	var inv types.Invoice
	if err := toml.NewDecoder(body).Strict(true).Decode(&inv); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, berr.ErrRequestTooLarge
		}
		return nil, berr.ErrInvalidManifest
	}
	return &inv, nil
}

// splitBindleID splits "name/version" at its last slash: the final segment is the version and
// everything before it is the name, since bindle names may themselves contain slashes. The
// segment is not checked to look like a version.
func splitBindleID(bindleID string) (name, version string) {
	bindleID = strings.Trim(bindleID, "/")
	idx := strings.LastIndex(bindleID, "/")
	if idx < 0 {
		return "", bindleID
	}
	return bindleID[:idx], bindleID[idx+1:]
}

// writeTOML encodes v as the canonical TOML response body with the given status.
func writeTOML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", tomlMimeType)
	w.WriteHeader(status)
	_ = toml.NewEncoder(w).Encode(v)
}

// writeError maps err to its spec §7 HTTP status and writes a types.ErrorResponse body.
func writeError(w http.ResponseWriter, err error) {
	writeTOML(w, berr.StatusFor(err), types.ErrorResponse{Error: err.Error()})
}

func copyBody(w io.Writer, r io.Reader) (int64, error) {
	return io.Copy(w, r)
}
