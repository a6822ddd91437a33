// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package certgen generates the fallback self-signed certificate the SNI
// resolver (internal/sni) hands back for a ClientHello it cannot match
// against the current snapshot. The Kubernetes-specific plumbing
// (Secret/YAML writers, kubeconfig loading) this package once carried has
// no component to bind to and was dropped — see DESIGN.md — leaving only
// the self-signed certificate math, generalized to take arbitrary SAN
// hostnames instead of a fixed service/namespace pair.
package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// keySize sets the RSA key size to 2048 bits, the minimum recommended size.
const keySize = 2048

// GenerateSelfSigned returns a self-signed certificate/key pair valid for
// the given SAN hostnames, usable directly as a tls.Certificate.
func GenerateSelfSigned(hostnames ...string) (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certgen: generate key: %w", err)
	}

	now := time.Now()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certgen: serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "dataplane fallback certificate",
		},
		NotBefore:             now.UTC().AddDate(0, 0, -1),
		NotAfter:              now.UTC().AddDate(10, 0, 0),
		SubjectKeyId:          bigIntHash(key.N),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hostnames {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certgen: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        template,
	}, nil
}

// bigIntHash derives a SubjectKeyId by hashing the modulus of the private
// key, as RFC 5280 §4.2.1.2 recommends.
func bigIntHash(n *big.Int) []byte {
	h := sha1.New() //nolint:gosec
	h.Write(n.Bytes())
	return h.Sum(nil)
}
