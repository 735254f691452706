package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	if NewPool().Pool() == nil {
		t.Fatal("Pool() returned nil")
	}
	if NewEmptyPool().Pool() == nil {
		t.Fatal("Pool() returned nil for an empty pool")
	}
}

func TestAddCertPEM(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		anyErr  bool
	}{
		{"one certificate", generateTestCertPEM(t), nil, false},
		{"two certificates", append(generateTestCertPEM(t), generateTestCertPEM(t)...), nil, false},
		{"empty", nil, ErrNoCertsFound, true},
		{"not PEM", []byte("not a certificate"), ErrNoCertsFound, true},
		{"only a key block", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("k")}), ErrNoCertsFound, true},
		{"invalid certificate", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")}), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEmptyPool().AddCertPEM(tt.data)
			if (err != nil) != tt.anyErr {
				t.Fatalf("AddCertPEM() error = %v, wantErr %v", err, tt.anyErr)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("AddCertPEM() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("LoadFile() expected error for a missing file")
	}
}

func TestLoadFile_TrustsPrivateServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(path, certPEM, 0644); err != nil {
		t.Fatal(err)
	}

	pool, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: pool.TLSConfig()}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET with the loaded pool: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	untrusted := &http.Client{Transport: &http.Transport{TLSClientConfig: NewEmptyPool().TLSConfig()}}
	if _, err := untrusted.Get(srv.URL); err == nil {
		t.Error("GET without the server's CA should fail verification")
	}
}

// generateTestCertPEM generates a self-signed CA certificate in PEM form.
func generateTestCertPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "idp.test",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
}
