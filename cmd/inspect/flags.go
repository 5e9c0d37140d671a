package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/uhyunpark/hypermargin/params"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

const (
	RPCKey         = "rpc"
	CommitmentKey  = "commitment"
	GroupKey       = "group"
	PerpProgramKey = "perp-program"
	LendProgramKey = "lend-program"
)

// AddFlags registers the inspect flags, defaulting to the crank's
// environment so a shared .env works for both binaries
func AddFlags(flags *pflag.FlagSet, env params.Config) {
	flags.String(RPCKey, env.Chain.RPCURL, "RPC endpoint to read accounts from")
	flags.String(CommitmentKey, env.Chain.Commitment, "commitment level for reads")
	flags.String(GroupKey, env.Crank.GroupAddress, "margin group address")
	flags.String(PerpProgramKey, env.Programs.Perp, "perp venue program id")
	flags.String(LendProgramKey, env.Programs.Lend, "lend venue program id")
}

type Config struct {
	RPCURL      string
	Commitment  string
	Group       crypto.Pubkey
	PerpProgram crypto.Pubkey
	LendProgram crypto.Pubkey
	Accounts    []crypto.Pubkey
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	var cfg Config
	var err error
	if cfg.RPCURL, err = flags.GetString(RPCKey); err != nil {
		return nil, err
	}
	if cfg.Commitment, err = flags.GetString(CommitmentKey); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*crypto.Pubkey{
		GroupKey:       &cfg.Group,
		PerpProgramKey: &cfg.PerpProgram,
		LendProgramKey: &cfg.LendProgram,
	} {
		s, err := flags.GetString(key)
		if err != nil {
			return nil, err
		}
		if *dst, err = crypto.ParsePubkey(s); err != nil {
			return nil, fmt.Errorf("--%s: %w", key, err)
		}
	}

	if flags.NArg() == 0 {
		return nil, fmt.Errorf("no account given")
	}
	for _, arg := range flags.Args() {
		k, err := crypto.ParsePubkey(arg)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", arg, err)
		}
		cfg.Accounts = append(cfg.Accounts, k)
	}
	return &cfg, nil
}
