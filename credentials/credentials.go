// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

// Package credentials generates and loads the self-signed TLS key pair a
// Relay presents to connecting Endpoints, and carries the out-of-band
// password an embedder wants kept out of process core dumps.
package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// DefaultKeysDir returns the conventional location for generated
// credentials, a subdirectory of the user's cache directory.
func DefaultKeysDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user cache dir")
	}
	return filepath.Join(dir, "relaycast", "credentials"), nil
}

// Params customizes the self-signed certificate's subject fields.
type Params struct {
	CommonName         string
	SubjectAltNames    []string
	Organization       string
	OrganizationalUnit string
	Country            string
	Locality           string
	Province           string
	SerialNumber       int64
	ValidityDuration   time.Duration
}

func (p *Params) setDefaults() {
	if p.CommonName == "" {
		p.CommonName = "default"
	}
	if len(p.SubjectAltNames) == 0 {
		p.SubjectAltNames = []string{p.CommonName}
	}
	if p.Organization == "" {
		p.Organization = "organizationName"
	}
	if p.OrganizationalUnit == "" {
		p.OrganizationalUnit = "organizationUnitName"
	}
	if p.Country == "" {
		p.Country = "CA"
	}
	if p.Locality == "" {
		p.Locality = "localityName"
	}
	if p.Province == "" {
		p.Province = "stateOrProvinceName"
	}
	if p.ValidityDuration == 0 {
		p.ValidityDuration = 10 * 365 * 24 * time.Hour
	}
}

// Generate creates a fresh RSA-4096 private key and a self-signed X.509
// certificate, and writes both PEM-encoded to key.pem and certificate.pem
// under dir.
func Generate(dir string, params Params) error {
	params.setDefaults()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}

	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return errors.Wrap(err, "generate rsa key")
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(params.SerialNumber),
		Subject: pkix.Name{
			CommonName:         params.CommonName,
			Organization:       []string{params.Organization},
			OrganizationalUnit: []string{params.OrganizationalUnit},
			Country:            []string{params.Country},
			Locality:           []string{params.Locality},
			Province:           []string{params.Province},
		},
		DNSNames:              params.SubjectAltNames,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(params.ValidityDuration),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return errors.Wrap(err, "sign certificate")
	}

	if err := writePEM(filepath.Join(dir, "certificate.pem"), "CERTIFICATE", der); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, "key.pem"), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

// LoadOrGenerate loads certificate.pem/key.pem from dir, generating a
// fresh self-signed pair there first if either file is missing.
func LoadOrGenerate(dir string, params Params) (tls.Certificate, error) {
	certPath := filepath.Join(dir, "certificate.pem")
	keyPath := filepath.Join(dir, "key.pem")

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		if err := Generate(dir, params); err != nil {
			return tls.Certificate{}, err
		}
	} else if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		if err := Generate(dir, params); err != nil {
			return tls.Certificate{}, err
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "load tls key pair")
	}
	return cert, nil
}
