package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadPartners(t *testing.T) {
	path := writeRegistry(t, `
- id: CURVE
  address: "0x6262998Ced04146fA42253a5C0AF90CA02dfd2A3"
- id: DHEDGE
  address: "0x6c8c7b0aC52A73F1a132c54cE495fC48a913502c"
`)
	partners, err := LoadPartners(path)
	require.NoError(t, err)
	require.Len(t, partners, 2)
	require.Equal(t, []string{"CURVE", "DHEDGE"}, IDs(partners))

	address, ok := AddressOf(partners, "curve")
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0x6262998Ced04146fA42253a5C0AF90CA02dfd2A3"), address)

	_, ok = AddressOf(partners, "UNKNOWN")
	require.False(t, ok)
}

func TestLoadPartnersRejectsDuplicates(t *testing.T) {
	path := writeRegistry(t, `
- id: CURVE
  address: "0x6262998Ced04146fA42253a5C0AF90CA02dfd2A3"
- id: curve
  address: "0x6c8c7b0aC52A73F1a132c54cE495fC48a913502c"
`)
	_, err := LoadPartners(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestLoadPartnersRejectsBadAddress(t *testing.T) {
	path := writeRegistry(t, `
- id: CURVE
  address: "not-an-address"
`)
	_, err := LoadPartners(path)
	require.Error(t, err)
}

func TestLoadCouncils(t *testing.T) {
	path := writeRegistry(t, `
- name: Spartan Council
  symbol: SC
  nft: "0x23d8Ef48b32dB22a9D44cfFA19d4a1C96f45F558"
  stipend: 2000
`)
	councils, err := LoadCouncils(path)
	require.NoError(t, err)
	require.Len(t, councils, 1)
	require.Equal(t, "Spartan Council", councils[0].Name)
	require.InDelta(t, 2000.0, councils[0].Stipend, 1e-9)
}

func TestLoadCouncilsRequiresPositiveStipend(t *testing.T) {
	path := writeRegistry(t, `
- name: Spartan Council
  nft: "0x23d8Ef48b32dB22a9D44cfFA19d4a1C96f45F558"
  stipend: 0
`)
	_, err := LoadCouncils(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stipend")
}
