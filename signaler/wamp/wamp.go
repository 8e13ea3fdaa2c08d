// Package wamp exchanges offers as RPC calls through a WAMP router. Every
// client registers a procedure named after its id; a handshake calls the
// remote procedure with the caller id and the JSON offer and gets the JSON
// answer back.
package wamp

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	// ErrProcessingOffer is returned to the caller when the receiving client
	// could not read or answer the offer.
	ErrProcessingOffer = "rtcnego.processing_offer"
	// ErrOfferRejected is returned to the caller when the receiving session
	// was rejected.
	ErrOfferRejected = "rtcnego.offer_rejected"
)

// TLSConfig builds the client tls config. With insecure set any server
// certificate is accepted; otherwise a PEM certificate at caFile is trusted
// and, when there is none, the platform roots are used.
func TLSConfig(caFile string, insecure bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}
	if insecure {
		logger.Debug("skip verify, accepting any certificate provided by signal server")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}
	if caFile == "" {
		return tlscfg, nil
	}
	certPEM, err := os.ReadFile(caFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no certificate file found, relying on platform trusted certificates")
		return tlscfg, nil
	}
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("failed to decode certificate to trust")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	logger.Debugf("trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)
	// the CN may not match the dial host for a self-signed relay
	tlscfg.ServerName = cert.Subject.CommonName
	return tlscfg, nil
}
