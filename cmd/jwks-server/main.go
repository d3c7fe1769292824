// Command jwks-server is an operator-side companion to internal/auth: it
// generates (or loads) the RSA keypair that signs spidercore admin
// operator tokens, serves the public half as both a JWKS document and a
// plain PEM (the latter being what cfg.Admin.JWTPublicKeyPath expects),
// and mints operator-role tokens for use with spiderctl --token.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWKSResponse struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

var (
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      = "spidercore-admin-key-1"
	issuer     string
	audience   string
)

// Init attempts to load an existing RSA key pair from env vars. If none found, it generates a new pair
func init() {
	var err error

	if privateKeyPEM := os.Getenv("JWT_PRIVATE_KEY"); privateKeyPEM != "" {
		block, _ := pem.Decode([]byte(privateKeyPEM))
		if block == nil {
			log.Fatal("Failed to decode PEM private key")
		}

		privateKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			log.Fatalf("Failed to parse private key: %v", err)
		}
	} else {
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			log.Fatalf("Failed to generate RSA key: %v", err)
		}
		log.Printf("Generated new RSA key pair for admin JWT signing")
	}

	publicKey = &privateKey.PublicKey

	issuer = os.Getenv("ADMIN_JWT_ISSUER")
	if issuer == "" {
		issuer = "spidercore"
	}
	audience = os.Getenv("ADMIN_JWT_AUDIENCE")
	if audience == "" {
		audience = "spidercore-admin"
	}
}

// jwksHandler serves the JWKS endpoint
func jwksHandler(w http.ResponseWriter, r *http.Request) {
	jwk := JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: keyID,
		N:   base64UrlEncode(publicKey.N.Bytes()),
		E:   base64UrlEncode(intToBytes(publicKey.E)),
	}

	response := JWKSResponse{
		Keys: []JWK{jwk},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(response)
}

// publicKeyPEMHandler serves the RSA public key in the plain PKCS1 PEM
// form cfg.Admin.JWTPublicKeyPath expects — internal/auth.NewJWTValidator
// decodes exactly this shape.
func publicKeyPEMHandler(w http.ResponseWriter, r *http.Request) {
	der := x509.MarshalPKCS1PublicKey(publicKey)
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}

	w.Header().Set("Content-Type", "application/x-pem-file")
	_ = pem.Encode(w, block)
}

// createTokenHandler mints an operator-role JWT. internal/auth.ValidateToken
// rejects any token missing the "role":"operator" claim, so every token
// minted here carries it.
func createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operator string `json:"operator"`
		TTL      int    `json:"ttl_seconds,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Operator == "" {
		http.Error(w, "operator is required", http.StatusBadRequest)
		return
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = 3600
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":  issuer,
		"aud":  audience,
		"sub":  req.Operator,
		"role": "operator",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
	})

	token.Header["kid"] = keyID

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"token":      tokenString,
		"expires_in": ttl,
		"token_type": "Bearer",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// healthHandler provides a simple health check endpoint
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// main starts the JWKS/token-mint server
func main() {
	http.HandleFunc("/.well-known/jwks.json", jwksHandler)
	http.HandleFunc("/public-key.pem", publicKeyPEMHandler)
	http.HandleFunc("/token", createTokenHandler)
	http.HandleFunc("/healthz", healthHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	log.Printf("jwks-server starting on port %s (iss=%s aud=%s)", port, issuer, audience)
	log.Printf("JWKS endpoint: http://localhost:%s/.well-known/jwks.json", port)
	log.Printf("Public key PEM (for ADMIN_JWT_PUBLIC_KEY_PATH): http://localhost:%s/public-key.pem", port)
	log.Printf("Token minting: POST http://localhost:%s/token {\"operator\":\"...\"}", port)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// Helper functions for JWK encoding
func base64UrlEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// intToBytes converts an integer to a big-endian byte slice
func intToBytes(i int) []byte {
	if i == 0 {
		return []byte{0}
	}

	bytes := make([]byte, 0)
	for i > 0 {
		bytes = append([]byte{byte(i & 0xff)}, bytes...)
		i >>= 8
	}
	return bytes
}
