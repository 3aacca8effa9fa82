package gremotesigner

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gorilla/mux"
)

// maxBodySize bounds both sign requests and returned signatures.
const maxBodySize = 1 << 20

// NewHandler returns the HTTP handler serving signer's key and signatures.
// Serve it on a unix socket that only the miner process can reach.
func NewHandler(log *slog.Logger, signer gcrypto.Signer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/pubkey", func(w http.ResponseWriter, req *http.Request) {
		pub := signer.PubKey()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(PubKeyResponse{
			TypeName: pub.TypeName(),
			PubKey:   pub.PubKeyBytes(),
		}); err != nil {
			log.Warn("Failed to encode public key", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/sign", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()

		input, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
		if err != nil {
			log.Warn("Failed to read sign request", "err", err)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		sig, err := signer.Sign(req.Context(), input)
		if err != nil {
			log.Warn("Failed to sign", "err", err)
			http.Error(w, "failed to sign", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := w.Write(sig); err != nil {
			log.Warn("Failed to write signature", "err", err)
		}
	}).Methods("POST")

	return r
}
