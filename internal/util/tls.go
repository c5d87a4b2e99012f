package util

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/solorun/solorun/internal/config"
)

// NewTLSConfig builds a *tls.Config from the given settings for use by store
// clients. If neither SkipVerify nor CACert is set, it returns nil so the
// client connects without TLS.
func NewTLSConfig(tc config.TLSConfig) (*tls.Config, error) {
	if !tc.SkipVerify && tc.CACert == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if tc.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if tc.CACert != "" {
		caCert, err := os.ReadFile(tc.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", tc.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", tc.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
