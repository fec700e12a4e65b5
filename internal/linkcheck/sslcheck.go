package linkcheck

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"
)

// InspectCertificate dials the host's TLS port and reports issuer and
// expiry for the leaf certificate. Verification errors are captured in the
// result, not returned; a handshake that only fails verification still
// yields issuer/expiry by retrying without verification.
func InspectCertificate(ctx context.Context, rawURL string, timeout time.Duration) *SSLInfo {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	info := &SSLInfo{}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{ServerName: host},
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, port))
	if err == nil {
		info.Valid = true
		fillCertFields(info, conn.(*tls.Conn))
		conn.Close()
		return info
	}
	info.Error = err.Error()

	// Verification failed (expired, self-signed, wrong host). Redial without
	// verification purely to report who issued the bad certificate and when
	// it expires.
	dialer.Config = &tls.Config{ServerName: host, InsecureSkipVerify: true} // #nosec G402 -- diagnostic redial only
	conn, err2 := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, port))
	if err2 != nil {
		return info
	}
	fillCertFields(info, conn.(*tls.Conn))
	conn.Close()
	return info
}

func fillCertFields(info *SSLInfo, conn *tls.Conn) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	leaf := state.PeerCertificates[0]
	info.Issuer = leaf.Issuer.CommonName
	if info.Issuer == "" && len(leaf.Issuer.Organization) > 0 {
		info.Issuer = leaf.Issuer.Organization[0]
	}
	info.Expires = leaf.NotAfter.UTC().Format(time.RFC3339)
}
