// Command inspect evaluates margin accounts once and prints the result as
// JSON, without submitting anything.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/hypermargin/params"
	"github.com/uhyunpark/hypermargin/pkg/app/utp"
	"github.com/uhyunpark/hypermargin/pkg/app/utp/lend"
	"github.com/uhyunpark/hypermargin/pkg/app/utp/perp"
	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/chain"
	"github.com/uhyunpark/hypermargin/pkg/crank"
)

func main() {
	cmd := Command(params.LoadFromEnv(""))
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func Command(env params.Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect [flags] <account>...",
		Short: "Evaluates margin accounts and prints their health",
		Args:  cobra.MinimumNArgs(1),
		RunE:  inspectFunc,
	}
	AddFlags(c.Flags(), env)
	return c
}

// result is printed per account; a failed account carries its error
type result struct {
	*crank.Inspection
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"errorKind,omitempty"`
}

func inspectFunc(c *cobra.Command, args []string) error {
	cfg, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	ctx := c.Context()
	fetcher, err := chain.DialRPC(ctx, cfg.RPCURL, cfg.Commitment)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	venues, err := utp.NewRegistry(perp.New(cfg.PerpProgram), lend.New(cfg.LendProgram))
	if err != nil {
		return err
	}
	g, err := chain.LoadGroup(ctx, fetcher, cfg.Group)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}

	out := json.NewEncoder(c.OutOrStdout())
	out.SetIndent("", "  ")
	failed := 0
	for _, addr := range cfg.Accounts {
		r := result{Address: addr.String()}
		in, err := crank.Inspect(ctx, fetcher, venues, g, addr)
		if err != nil {
			failed++
			r.Error, r.Kind = err.Error(), apperrors.KindOf(err)
		} else {
			r.Inspection = &in
		}
		if err := out.Encode(r); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(cfg.Accounts))
	}
	return nil
}
