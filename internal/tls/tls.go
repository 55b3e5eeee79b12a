// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package tls builds client TLS settings for outbound connections that may
// need a private certificate authority.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// LoadCertPool reads every PEM certificate in caFile into a new pool.
// An empty path returns a nil pool, which means the system roots.
func LoadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(caFile))
	if err != nil {
		return nil, oops.Code("TLS_CA_READ_FAILED").With("path", caFile).Wrap(err)
	}

	pool := x509.NewCertPool()
	added := 0
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, oops.Code("TLS_CA_INVALID").With("path", caFile).Wrap(err)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return nil, oops.Code("TLS_CA_INVALID").With("path", caFile).Errorf("no certificates found")
	}
	return pool, nil
}

// ClientConfig returns a TLS 1.2+ client config verifying serverName against
// roots. A nil roots pool uses the system roots.
func ClientConfig(serverName string, roots *x509.CertPool) *tls.Config {
	return &tls.Config{
		ServerName: serverName,
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}
}
