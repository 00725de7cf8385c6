package txengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hexwallet/txengine/testutil"
)

func TestPermissionRegistry(t *testing.T) {
	t.Run("empty registry denies everything", func(t *testing.T) {
		p := NewPermissionRegistry()
		assert.False(t, p.Allowed("https://app.example.com", testutil.WalletAddr))
	})

	t.Run("grants are per origin and address", func(t *testing.T) {
		p := NewPermissionRegistry()
		p.Grant("https://app.example.com", testutil.WalletAddr)

		assert.True(t, p.Allowed("https://app.example.com", testutil.WalletAddr))
		assert.False(t, p.Allowed("https://app.example.com", testutil.CounterpartyAddr))
		assert.False(t, p.Allowed("https://other.example.com", testutil.WalletAddr))
	})

	t.Run("origins are normalized", func(t *testing.T) {
		p := NewPermissionRegistry()
		p.Grant("https://App.Example.com/", testutil.WalletAddr)

		assert.True(t, p.Allowed("https://app.example.com", testutil.WalletAddr))
	})

	t.Run("revoked grants stop applying", func(t *testing.T) {
		p := NewPermissionRegistry()
		p.Grant("https://app.example.com", testutil.WalletAddr)
		p.Revoke("https://app.example.com", testutil.WalletAddr)

		assert.False(t, p.Allowed("https://app.example.com", testutil.WalletAddr))
	})
}
