package server

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"

	"github.com/opcnet-io/uastack/ua"
)

func putUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// publicKeyFromCertificate extracts the RSA public key from DER certificate
// bytes.
func publicKeyFromCertificate(der []byte) (*rsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ua.BadCertificateInvalid
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ua.BadCertificateInvalid
	}
	return pub, nil
}
