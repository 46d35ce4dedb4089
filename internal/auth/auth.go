// Package auth authenticates HTTP requests signed with a secp256k1 key.
//
// A client signs keccak256 of the Ethereum personal-message prefix followed
// by "<sha256(body)>.<timestamp>.<nonce>" and sends the signature with its
// address, timestamp and nonce in headers.
package auth

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	HeaderAddress   = "X-Address"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

type NonceCache struct {
	mu      sync.RWMutex
	nonces  map[string]time.Time
	ttl     time.Duration
	cleanup time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewNonceCache(ttl, cleanup time.Duration) *NonceCache {
	cache := &NonceCache{
		nonces:  make(map[string]time.Time),
		ttl:     ttl,
		cleanup: cleanup,
		stop:    make(chan struct{}),
	}
	go cache.startCleanup()
	return cache
}

// TTL is how long a nonce stays used. Requests with timestamps further than
// TTL from now are rejected, so an expired nonce cannot be replayed.
func (c *NonceCache) TTL() time.Duration { return c.ttl }

func (c *NonceCache) startCleanup() {
	ticker := time.NewTicker(c.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		for nonce, timestamp := range c.nonces {
			if time.Since(timestamp) > c.ttl {
				delete(c.nonces, nonce)
			}
		}
		c.mu.Unlock()
	}
}

// Stop ends the cleanup goroutine.
func (c *NonceCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *NonceCache) IsUsed(nonce string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, used := c.nonces[nonce]
	return used && time.Since(ts) <= c.ttl
}

// Use marks nonce as used and reports whether it was fresh.
func (c *NonceCache) Use(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, used := c.nonces[nonce]; used && time.Since(ts) <= c.ttl {
		return false
	}
	c.nonces[nonce] = time.Now()
	return true
}

// Allowlist decides which signer addresses may call a protected endpoint.
type Allowlist interface {
	Allowed(address string) bool
}

// AddressSet is a static Allowlist.
type AddressSet map[common.Address]struct{}

func NewAddressSet(addresses []string) (AddressSet, error) {
	set := make(AddressSet, len(addresses))
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
		set[common.HexToAddress(addr)] = struct{}{}
	}
	return set, nil
}

func (s AddressSet) Allowed(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	_, ok := s[common.HexToAddress(address)]
	return ok
}

// MessageHash is the digest signed for a request body.
func MessageHash(body []byte, timestamp, nonce string) []byte {
	bodyHash := sha256.Sum256(body)
	messageStr := fmt.Sprintf("%x.%s.%s", bodyHash, timestamp, nonce)
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(messageStr), messageStr)))
}

// SignRequest sets the authentication headers for req, whose body is body.
func SignRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := fmt.Sprintf("%x", rand.Int63())

	signature, err := crypto.Sign(MessageHash(body, timestamp, nonce), key)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	signature[64] += 27 // for EIP-155 compatibility

	req.Header.Set(HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(signature))
	return nil
}

// VerifySignature reports whether signature over message was made by
// address.
func VerifySignature(signature, message []byte, address string) (bool, error) {
	sig := signature
	if len(sig) == 65 && (sig[64] == 27 || sig[64] == 28) {
		sig = append([]byte(nil), signature...)
		sig[64] -= 27
	}

	sigPublicKey, err := crypto.SigToPub(message, sig)
	if err != nil {
		return false, err
	}
	return crypto.PubkeyToAddress(*sigPublicKey) == common.HexToAddress(address), nil
}

func Middleware(next http.Handler, log *zap.Logger, nonceCache *NonceCache, allow Allowlist) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.Header.Get(HeaderAddress)
		if address == "" {
			log.Warn("missing X-Address header")
			http.Error(w, "missing X-Address header", http.StatusUnauthorized)
			return
		}

		if !allow.Allowed(address) {
			log.Warn("address not allowed", zap.String("address", address))
			http.Error(w, "address not allowed", http.StatusUnauthorized)
			return
		}

		signatureStr := r.Header.Get(HeaderSignature)
		if signatureStr == "" {
			log.Warn("missing X-Signature header")
			http.Error(w, "missing X-Signature header", http.StatusUnauthorized)
			return
		}
		signature, err := hex.DecodeString(signatureStr)
		if err != nil {
			log.Warn("invalid X-Signature header", zap.Error(err))
			http.Error(w, "invalid X-Signature header", http.StatusBadRequest)
			return
		}

		timestampStr := r.Header.Get(HeaderTimestamp)
		if timestampStr == "" {
			log.Warn("missing X-Timestamp header")
			http.Error(w, "missing X-Timestamp header", http.StatusUnauthorized)
			return
		}
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			log.Warn("invalid X-Timestamp header", zap.Error(err))
			http.Error(w, "invalid X-Timestamp header", http.StatusBadRequest)
			return
		}
		if skew := time.Since(time.Unix(timestamp, 0)); skew > nonceCache.TTL() || skew < -nonceCache.TTL() {
			log.Warn("stale request", zap.Duration("skew", skew))
			http.Error(w, "stale request", http.StatusUnauthorized)
			return
		}

		nonce := r.Header.Get(HeaderNonce)
		if nonce == "" {
			log.Warn("missing X-Nonce header")
			http.Error(w, "missing X-Nonce header", http.StatusUnauthorized)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error("failed to read request body", zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		valid, err := VerifySignature(signature, MessageHash(bodyBytes, timestampStr, nonce), address)
		if err != nil {
			log.Warn("failed to recover signer", zap.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		if !valid {
			log.Warn("invalid signature", zap.String("address", address))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		// Only a verified request may consume its nonce.
		if !nonceCache.Use(nonce) {
			log.Warn("nonce already used", zap.String("nonce", nonce))
			http.Error(w, "nonce already used", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
