// Package gremotesigner lets a miner keep its signing key in a separate process,
// reached over HTTP on a unix domain socket.
package gremotesigner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gblsminsig"
	"github.com/tv42/httpunix"
)

const location = "signer"

// PubKeyResponse is the body returned by the server's pubkey route.
type PubKeyResponse struct {
	TypeName string
	PubKey   []byte
}

// Signer is a [gcrypto.Signer] that forwards every signing request
// to a server created with [NewHandler].
type Signer struct {
	client http.Client
	pub    gcrypto.PubKey
}

// Dial connects to the signer server listening on the unix socket at socketPath,
// and fetches its public key.
func Dial(ctx context.Context, socketPath string) (*Signer, error) {
	t := &httpunix.Transport{
		DialTimeout:           time.Second,
		RequestTimeout:        5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	t.RegisterLocation(location, socketPath)

	s := &Signer{
		client: http.Client{Transport: t},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url("/pubkey"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public key from %s: %w", socketPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch public key from %s: status %s", socketPath, resp.Status)
	}

	var pr PubKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode public key response: %w", err)
	}
	s.pub, err = DecodePubKey(pr.TypeName, pr.PubKey)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Signer) PubKey() gcrypto.PubKey {
	return s.pub
}

func (s *Signer) Sign(ctx context.Context, input []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url("/sign"), bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote sign request failed: %w", err)
	}
	defer resp.Body.Close()

	sig, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read remote signature: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote sign request failed: status %s: %s", resp.Status, bytes.TrimSpace(sig))
	}

	// A misbehaving server must not get a bad signature published.
	if !s.pub.Verify(input, sig) {
		return nil, fmt.Errorf("remote signer returned a signature that does not verify")
	}
	return sig, nil
}

// DecodePubKey decodes a public key of any scheme the module supports.
func DecodePubKey(typeName string, b []byte) (gcrypto.PubKey, error) {
	switch typeName {
	case "ed25519":
		return gcrypto.NewEd25519PubKey(b)
	case "secp256k1":
		return gcrypto.NewSecp256k1PubKey(b)
	case "bls-minsig":
		return gblsminsig.NewPubKey(b)
	default:
		return nil, fmt.Errorf("unknown key type %q", typeName)
	}
}

func url(path string) string {
	return httpunix.Scheme + "://" + location + path
}
