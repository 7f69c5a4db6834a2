package ledger

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConnectionProfile is the subset of a Fabric common connection profile
// needed to reach an organization's gateway peer. JSON profiles parse too.
type ConnectionProfile struct {
	Name          string                         `yaml:"name"`
	Organizations map[string]ProfileOrganization `yaml:"organizations"`
	Peers         map[string]ProfilePeer         `yaml:"peers"`

	dir string
}

// ProfileOrganization lists the peers of one organization
type ProfileOrganization struct {
	MSPID string   `yaml:"mspid"`
	Peers []string `yaml:"peers"`
}

// ProfilePeer describes how to reach a peer
type ProfilePeer struct {
	URL         string            `yaml:"url"`
	TLSCACerts  ProfileTLSCerts   `yaml:"tlsCACerts"`
	GRPCOptions map[string]string `yaml:"grpcOptions"`
}

// ProfileTLSCerts holds the TLS CA either inline or as a file path
type ProfileTLSCerts struct {
	PEM  string `yaml:"pem"`
	Path string `yaml:"path"`
}

// PeerEndpoint is a resolved gateway peer address
type PeerEndpoint struct {
	Name       string
	Address    string
	ServerName string
	TLSCACert  []byte
	Insecure   bool
}

// LoadConnectionProfile reads a connection profile file
func LoadConnectionProfile(path string) (*ConnectionProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection profile: %w", err)
	}

	var profile ConnectionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse connection profile: %w", err)
	}
	profile.dir = filepath.Dir(path)

	return &profile, nil
}

// GatewayPeer resolves the first peer of the organization with mspID.
// With asLocalhost the peer host is rewritten to localhost while TLS still
// verifies against the original host name, as for a local test network.
func (p *ConnectionProfile) GatewayPeer(mspID string, asLocalhost bool) (*PeerEndpoint, error) {
	orgNames := make([]string, 0, len(p.Organizations))
	for name := range p.Organizations {
		orgNames = append(orgNames, name)
	}
	sort.Strings(orgNames)

	var peerName string
	for _, name := range orgNames {
		org := p.Organizations[name]
		if org.MSPID == mspID && len(org.Peers) > 0 {
			peerName = org.Peers[0]
			break
		}
	}
	if peerName == "" {
		return nil, fmt.Errorf("no peer for MSP %s in connection profile %q", mspID, p.Name)
	}

	peer, ok := p.Peers[peerName]
	if !ok {
		return nil, fmt.Errorf("peer %s is not defined in connection profile %q", peerName, p.Name)
	}

	u, err := url.Parse(peer.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q for peer %s", peer.URL, peerName)
	}

	endpoint := &PeerEndpoint{
		Name:       peerName,
		Address:    u.Host,
		ServerName: u.Hostname(),
		Insecure:   u.Scheme == "grpc",
	}
	if override := peer.GRPCOptions["ssl-target-name-override"]; override != "" {
		endpoint.ServerName = override
	}
	if asLocalhost {
		endpoint.Address = net.JoinHostPort("localhost", u.Port())
	}

	if !endpoint.Insecure {
		ca, err := p.tlsCACert(peer.TLSCACerts)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", peerName, err)
		}
		endpoint.TLSCACert = ca
	}

	return endpoint, nil
}

func (p *ConnectionProfile) tlsCACert(certs ProfileTLSCerts) ([]byte, error) {
	if strings.TrimSpace(certs.PEM) != "" {
		return []byte(certs.PEM), nil
	}
	if certs.Path == "" {
		return nil, fmt.Errorf("tlsCACerts requires pem or path")
	}

	path := certs.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS CA certificate: %w", err)
	}
	return data, nil
}
