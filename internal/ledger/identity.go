package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// OrganizationSpec locates the credentials of one organization
type OrganizationSpec struct {
	OrgID               string
	MSPID               string
	CertPath            string
	KeyPath             string
	ProfilePath         string
	SubmitRatePerSecond float64
	SubmitBurst         int
}

// LedgerIdentity is the material needed to sign and route transactions for
// one organization. It is fixed for the process lifetime.
type LedgerIdentity struct {
	OrgID       string
	MSPID       string
	Certificate []byte
	PrivateKey  []byte
	Profile     *ConnectionProfile
}

// LoadIdentity reads the certificate, private key and connection profile of spec.
// KeyPath may name a key file or a keystore directory holding a single key.
func LoadIdentity(spec OrganizationSpec) (*LedgerIdentity, error) {
	cert, err := os.ReadFile(spec.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate for %s: %w", spec.OrgID, err)
	}

	key, err := readPrivateKey(spec.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key for %s: %w", spec.OrgID, err)
	}

	profile, err := LoadConnectionProfile(spec.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection profile for %s: %w", spec.OrgID, err)
	}

	return &LedgerIdentity{
		OrgID:       spec.OrgID,
		MSPID:       spec.MSPID,
		Certificate: cert,
		PrivateKey:  key,
		Profile:     profile,
	}, nil
}

func readPrivateKey(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return os.ReadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("keystore %s is empty", path)
	}
	sort.Strings(files)

	return os.ReadFile(filepath.Join(path, files[0]))
}
