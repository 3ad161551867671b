package rdpbridge

import (
	"fmt"
	"strings"
)

// CertFlags describes the conditions under which a certificate is
// presented for verification.
type CertFlags uint32

const (
	CertFlagNone            CertFlags = 0x00
	CertFlagLegacy          CertFlags = 0x02
	CertFlagRedirect        CertFlags = 0x10
	CertFlagGateway         CertFlags = 0x20
	CertFlagChanged         CertFlags = 0x40
	CertFlagMismatch        CertFlags = 0x80
	CertFlagMatchLegacySHA1 CertFlags = 0x100
	CertFlagFingerprintPEM  CertFlags = 0x200
)

var certFlagNames = []struct {
	flag CertFlags
	name string
}{
	{CertFlagLegacy, "legacy"},
	{CertFlagRedirect, "redirect"},
	{CertFlagGateway, "gateway"},
	{CertFlagChanged, "changed"},
	{CertFlagMismatch, "mismatch"},
	{CertFlagMatchLegacySHA1, "legacy-sha1"},
	{CertFlagFingerprintPEM, "pem"},
}

func (f CertFlags) Has(flag CertFlags) bool {
	return f&flag == flag
}

func (f CertFlags) String() string {
	if f == CertFlagNone {
		return "none"
	}
	var names []string
	rest := f
	for _, n := range certFlagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// CertDecision is the answer handed back to the engine after a
// certificate prompt.
type CertDecision int

const (
	CertReject            CertDecision = 0
	CertAcceptPermanently CertDecision = 1
	CertAcceptTemporarily CertDecision = 2
)

func (d CertDecision) String() string {
	switch d {
	case CertReject:
		return "reject"
	case CertAcceptPermanently:
		return "accept"
	case CertAcceptTemporarily:
		return "accept-once"
	default:
		return fmt.Sprintf("CertDecision(%d)", int(d))
	}
}

type Certificate struct {
	Host        string
	Port        int
	CommonName  string
	Subject     string
	Issuer      string
	Fingerprint string
	Flags       CertFlags
}

// ChangedCertificate is presented when the server certificate differs from
// the one stored for the host.
type ChangedCertificate struct {
	Certificate
	OldSubject     string
	OldIssuer      string
	OldFingerprint string
}

type Credentials struct {
	Username string
	Domain   string
	Password string
}
