package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

var ErrNoCertificate = errors.New("no certificate in PEM data")

// Status describes the leaf certificate the server presents.
type Status struct {
	Subject      string
	NotAfter     time.Time
	Expired      bool
	ExpiringSoon bool
}

// LoadChain loads every CERTIFICATE block from a PEM file, leaf first.
func LoadChain(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseChain(data)
}

func ParseChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, ErrNoCertificate
	}
	return chain, nil
}

// Check reports on the leaf of the chain in path. ExpiringSoon is set when
// the earliest NotAfter in the chain falls within warnBefore of now.
func Check(path string, warnBefore time.Duration, now time.Time) (Status, error) {
	chain, err := LoadChain(path)
	if err != nil {
		return Status{}, err
	}
	notAfter := chain[0].NotAfter
	for _, c := range chain[1:] {
		if c.NotAfter.Before(notAfter) {
			notAfter = c.NotAfter
		}
	}
	return Status{
		Subject:      chain[0].Subject.String(),
		NotAfter:     notAfter,
		Expired:      !now.Before(notAfter),
		ExpiringSoon: now.Add(warnBefore).After(notAfter),
	}, nil
}

// LogStatus checks path and logs a warning when the certificate needs attention.
func LogStatus(log *slog.Logger, path string, warnBefore time.Duration) error {
	st, err := Check(path, warnBefore, time.Now())
	if err != nil {
		return err
	}
	switch {
	case st.Expired:
		log.Error("tls certificate expired", "subject", st.Subject, "not_after", st.NotAfter)
	case st.ExpiringSoon:
		log.Warn("tls certificate expires soon", "subject", st.Subject, "not_after", st.NotAfter)
	default:
		log.Info("tls certificate loaded", "subject", st.Subject, "not_after", st.NotAfter)
	}
	return nil
}
