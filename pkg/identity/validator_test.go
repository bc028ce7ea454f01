package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameRule(t *testing.T) {
	ctx := context.Background()
	valid := []string{"tf", "econdevfunds", "eosio.rex", "eosio.tedp", "a", "abcde12345.z"}
	invalid := []string{"", "eosio.", "Upper", "acct6", "acct0", "with space", "thirteenchars", "a_b", "é"}

	for _, name := range valid {
		assert.True(t, NameRule{}.IsValidAccount(ctx, name), name)
	}
	for _, name := range invalid {
		assert.False(t, NameRule{}.IsValidAccount(ctx, name), name)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry("tf", "econdevfunds")

	assert.True(t, r.IsValidAccount(ctx, "tf"))
	assert.False(t, r.IsValidAccount(ctx, "eosio.rex"))

	r.Add("eosio.rex")
	r.Remove("tf")
	assert.True(t, r.IsValidAccount(ctx, "eosio.rex"))
	assert.False(t, r.IsValidAccount(ctx, "tf"))
	assert.Equal(t, []string{"econdevfunds", "eosio.rex"}, r.Accounts())
}

func TestAll(t *testing.T) {
	ctx := context.Background()
	v := All(NameRule{}, NewRegistry("tf", "Bad.Name"))

	assert.True(t, v.IsValidAccount(ctx, "tf"))
	assert.False(t, v.IsValidAccount(ctx, "Bad.Name"), "fails the name rule")
	assert.False(t, v.IsValidAccount(ctx, "alice"), "not registered")
	assert.True(t, All().IsValidAccount(ctx, "anything"))
}
