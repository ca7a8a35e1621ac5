// Package tls manages the gateway's self-signed certificate: generation,
// loading, renewal near expiry and SHA-256 fingerprints that clients pin.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultValidDuration is the lifetime of a generated certificate.
const DefaultValidDuration = 365 * 24 * time.Hour

// DefaultRenewBefore regenerates a certificate this long before it expires.
const DefaultRenewBefore = 30 * 24 * time.Hour

// CertConfig holds configuration for certificate generation.
type CertConfig struct {
	// CertPath and KeyPath are where the PEM files live. Required.
	CertPath string
	KeyPath  string

	// Hosts are the DNS names and IPs the certificate is valid for.
	// Defaults to localhost and 127.0.0.1.
	Hosts []string

	// ValidDuration defaults to DefaultValidDuration.
	ValidDuration time.Duration

	// RenewBefore defaults to DefaultRenewBefore. A negative value
	// disables renewal.
	RenewBefore time.Duration

	// TimeNow defaults to time.Now.
	TimeNow func() time.Time
}

// CertInfo describes a loaded or generated certificate.
type CertInfo struct {
	CertPath string
	KeyPath  string

	// Fingerprint is the SHA-256 fingerprint as colon-separated
	// uppercase hex bytes ("AA:BB:...").
	Fingerprint string

	NotBefore time.Time
	NotAfter  time.Time

	// IsGenerated is true when the files were written by this call.
	IsGenerated bool
}

// DefaultPaths returns <dataDir>/certs/gateway.crt and gateway.key.
func DefaultPaths(dataDir string) (certPath, keyPath string) {
	dir := filepath.Join(dataDir, "certs")
	return filepath.Join(dir, "gateway.crt"), filepath.Join(dir, "gateway.key")
}

// HostsForAddr returns the certificate hosts for a listen address: always
// localhost and 127.0.0.1, plus the address host if it is specific.
func HostsForAddr(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return hosts
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return hosts
	}
	for _, h := range hosts {
		if h == host {
			return hosts
		}
	}
	return append(hosts, host)
}

// EnsureCertificate loads the configured certificate, or generates a new
// one if either file is missing or the certificate expires within
// RenewBefore.
func EnsureCertificate(cfg CertConfig) (*CertInfo, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, fmt.Errorf("certificate and key paths are required")
	}
	cfg = withDefaults(cfg)

	if fileExists(cfg.CertPath) && fileExists(cfg.KeyPath) {
		info, err := LoadCertificate(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		if cfg.RenewBefore < 0 || cfg.TimeNow().Add(cfg.RenewBefore).Before(info.NotAfter) {
			return info, nil
		}
		log.Printf("tls: certificate %s expires %s, regenerating", cfg.CertPath, info.NotAfter.Format(time.RFC3339))
	}

	info, err := GenerateCertificate(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	return info, nil
}

func withDefaults(cfg CertConfig) CertConfig {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{"localhost", "127.0.0.1"}
	}
	if cfg.ValidDuration == 0 {
		cfg.ValidDuration = DefaultValidDuration
	}
	if cfg.RenewBefore == 0 {
		cfg.RenewBefore = DefaultRenewBefore
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	return cfg
}

// LoadCertificate loads an existing certificate and computes its fingerprint.
func LoadCertificate(certPath, keyPath string) (*CertInfo, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertInfo{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: ComputeFingerprint(x509Cert),
		NotBefore:   x509Cert.NotBefore,
		NotAfter:    x509Cert.NotAfter,
	}, nil
}

// GenerateCertificate writes a new self-signed ECDSA P-256 certificate
// and its PKCS#8 key to the configured paths.
func GenerateCertificate(cfg CertConfig) (*CertInfo, error) {
	cfg = withDefaults(cfg)

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := cfg.TimeNow()
	notAfter := notBefore.Add(cfg.ValidDuration)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"pairgate"},
			CommonName:   "pairgate gateway",
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, host := range cfg.Hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(cfg.KeyPath, "PRIVATE KEY", keyBytes, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := writePEM(cfg.CertPath, "CERTIFICATE", derBytes, 0644); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}

	x509Cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	log.Printf("tls: generated certificate %s (valid until %s)", cfg.CertPath, notAfter.Format(time.RFC3339))

	return &CertInfo{
		CertPath:    cfg.CertPath,
		KeyPath:     cfg.KeyPath,
		Fingerprint: ComputeFingerprint(x509Cert),
		NotBefore:   x509Cert.NotBefore,
		NotAfter:    x509Cert.NotAfter,
		IsGenerated: true,
	}, nil
}

// writePEM writes one PEM block through a temp file and rename, so a
// reader never sees a partial file.
func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := pem.Encode(tmp, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ComputeFingerprint returns the SHA-256 fingerprint of a certificate as
// colon-separated uppercase hex bytes.
func ComputeFingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	hexStr := strings.ToUpper(hex.EncodeToString(hash[:]))

	parts := make([]string, 0, len(hash))
	for i := 0; i < len(hexStr); i += 2 {
		parts = append(parts, hexStr[i:i+2])
	}
	return strings.Join(parts, ":")
}

// ComputeFingerprintFromPEM computes the fingerprint of PEM certificate data.
func ComputeFingerprintFromPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	return ComputeFingerprint(cert), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
