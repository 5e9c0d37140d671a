package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypermargin/params"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

func TestParseFlags(t *testing.T) {
	require := require.New(t)

	env := params.Default()
	env.Crank.GroupAddress = crypto.Pubkey{0x60}.String()
	env.Programs.Perp = crypto.Pubkey{0xA1}.String()
	env.Programs.Lend = crypto.Pubkey{0xA2}.String()

	flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	AddFlags(flags, env)
	account := crypto.Pubkey{7}
	cfg, err := ParseFlags(flags, []string{"--rpc", "http://node:8899", account.String()})
	require.NoError(err)
	require.Equal("http://node:8899", cfg.RPCURL)
	require.Equal("confirmed", cfg.Commitment)
	require.Equal(crypto.Pubkey{0x60}, cfg.Group)
	require.Equal([]crypto.Pubkey{account}, cfg.Accounts)
}

func TestParseFlagsRejects(t *testing.T) {
	env := params.Default()
	env.Crank.GroupAddress = crypto.Pubkey{0x60}.String()
	env.Programs.Perp = crypto.Pubkey{0xA1}.String()
	env.Programs.Lend = crypto.Pubkey{0xA2}.String()

	tests := []struct {
		name string
		args []string
	}{
		{"no account", nil},
		{"bad account", []string{"0xnot-base58"}},
		{"bad group", []string{"--group", "nope", crypto.Pubkey{7}.String()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			AddFlags(flags, env)
			_, err := ParseFlags(flags, tt.args)
			require.Error(t, err)
		})
	}
}
