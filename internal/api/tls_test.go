package api

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeyPair writes a self-signed certificate and its key.
func writeKeyPair(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadTLSConfig_NotConfigured(t *testing.T) {
	cfg, err := LoadTLSConfig("", "")
	if cfg != nil || err != nil {
		t.Errorf("got %v, %v; want nil, nil", cfg, err)
	}
}

func TestLoadTLSConfig_HalfConfigured(t *testing.T) {
	if _, err := LoadTLSConfig("/path/to/cert.pem", ""); err == nil {
		t.Error("expected error when only cert is set")
	}
	if _, err := LoadTLSConfig("", "/path/to/key.pem"); err == nil {
		t.Error("expected error when only key is set")
	}
}

func TestLoadTLSConfig_InvalidFiles(t *testing.T) {
	if _, err := LoadTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestLoadTLSConfig_Valid(t *testing.T) {
	cert, key := writeKeyPair(t)
	cfg, err := LoadTLSConfig(cert, key)
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("unexpected config %+v", cfg)
	}
}
