// Package tlsconfig loads the optional PEM cert/key pair for the bridge
// listener. TLS itself is named as an out-of-scope external collaborator
// in spec §1 ("TLS key loading... only their interfaces are specified");
// this package exists so the --tls-cert/--tls-key flags actually do
// something real rather than being dead CLI surface.
package tlsconfig

import "crypto/tls"

// Load builds a *tls.Config from a PEM cert/key pair. Returns (nil, nil)
// if both paths are empty, meaning TLS is not configured.
func Load(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
