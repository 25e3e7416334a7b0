package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/govledger/core"
	"github.com/axiomesh/govledger/node"
	"github.com/axiomesh/govledger/repo"
)

var (
	fromFlag = &cli.StringFlag{
		Name:  "from",
		Usage: "Calling account, the configured admin dispatches as root",
	}
	idFlag = &cli.UintFlag{
		Name:     "id",
		Usage:    "Proposal id",
		Required: true,
	}
	deadlineFlag = &cli.Uint64Flag{
		Name:     "deadline",
		Usage:    "Last clock value at which the proposal is open",
		Required: true,
	}
	sideFlag = &cli.StringFlag{
		Name:     "side",
		Usage:    "aye or nay",
		Required: true,
	}
	pointsFlag = &cli.UintFlag{
		Name:     "points",
		Usage:    "Vote magnitude, costs points² of the caller's balance",
		Required: true,
	}
	accountFlag = &cli.StringFlag{
		Name:     "account",
		Usage:    "Account address",
		Required: true,
	}
)

var ledgerCMD = &cli.Command{
	Name:  "ledger",
	Usage: "Run governance operations against the local repo",
	Subcommands: []*cli.Command{
		{
			Name:      "register",
			Usage:     "Register a voter",
			ArgsUsage: "<address>",
			Flags:     []cli.Flag{fromFlag},
			Action:    register,
		},
		{
			Name:  "propose",
			Usage: "Submit a proposal",
			Flags: []cli.Flag{
				fromFlag,
				deadlineFlag,
				&cli.StringFlag{
					Name:  "description",
					Usage: "Proposal text, stored as its keccak256 hash",
				},
				&cli.StringFlag{
					Name:  "hash",
					Usage: "Precomputed 32 byte description hash",
				},
			},
			Action: propose,
		},
		{
			Name:   "extend",
			Usage:  "Move a proposal deadline further out",
			Flags:  []cli.Flag{fromFlag, idFlag, deadlineFlag},
			Action: extend,
		},
		{
			Name:   "cancel",
			Usage:  "Cancel an open proposal",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: proposalAction((*core.Engine).Cancel),
		},
		{
			Name:   "vote",
			Usage:  "Cast a vote",
			Flags:  []cli.Flag{fromFlag, idFlag, sideFlag, pointsFlag},
			Action: voteAction((*core.Engine).Vote),
		},
		{
			Name:   "update-vote",
			Usage:  "Replace an existing vote",
			Flags:  []cli.Flag{fromFlag, idFlag, sideFlag, pointsFlag},
			Action: voteAction((*core.Engine).UpdateVote),
		},
		{
			Name:   "cancel-vote",
			Usage:  "Withdraw a vote and release its collateral",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: proposalAction((*core.Engine).CancelVote),
		},
		{
			Name:   "finish",
			Usage:  "Settle a proposal after its deadline",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: proposalAction((*core.Engine).Finish),
		},
		{
			Name:   "unlock",
			Usage:  "Release the collateral of a vote on a closed proposal",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: proposalAction((*core.Engine).UnlockBalance),
		},
		{
			Name:   "proposal",
			Usage:  "Show a proposal",
			Flags:  []cli.Flag{idFlag},
			Action: showProposal,
		},
		{
			Name:  "proposals",
			Usage: "List proposals",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "start", Usage: "First proposal id", Value: 1},
				&cli.IntFlag{Name: "limit", Usage: "Maximum number of proposals, 0 for all"},
			},
			Action: listProposals,
		},
		{
			Name:   "vote-info",
			Usage:  "Show the vote of an account on a proposal",
			Flags:  []cli.Flag{idFlag, accountFlag},
			Action: voteInfo,
		},
		{
			Name:   "balance",
			Usage:  "Show free and reserved balance",
			Flags:  []cli.Flag{accountFlag},
			Action: balance,
		},
		{
			Name:  "set-balance",
			Usage: "Set the free balance of an account",
			Flags: []cli.Flag{
				accountFlag,
				&cli.Uint64Flag{Name: "amount", Usage: "Free balance", Required: true},
			},
			Action: setBalance,
		},
		{
			Name:  "advance",
			Usage: "Advance the block clock",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "blocks", Usage: "Number of blocks", Value: 1},
			},
			Action: advance,
		},
	},
}

// withNode opens the repo's ledger without starting the daemon services.
func withNode(ctx *cli.Context, fn func(n *node.Node) error) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}
	n, err := node.New(ctx.Context, r.Config)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			fmt.Println("close ledger:", err)
		}
	}()
	return fn(n)
}

func parseAccount(s string) (core.AccountID, error) {
	if !common.IsHexAddress(s) {
		return core.AccountID{}, errors.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func callerOrigin(ctx *cli.Context, n *node.Node) (core.Origin, error) {
	from := ctx.String("from")
	if from == "" {
		return core.Origin{}, errors.New("--from is required")
	}
	who, err := parseAccount(from)
	if err != nil {
		return core.Origin{}, err
	}
	return n.Origin(who), nil
}

// proposalIDFlag reads a proposal id flag, refusing values that do not fit
// a 32-bit id.
func proposalIDFlag(ctx *cli.Context, name string) (core.ProposalID, error) {
	v := ctx.Uint(name)
	if uint64(v) > math.MaxUint32 {
		return 0, errors.Errorf("--%s %d exceeds the largest proposal id %d", name, v, uint32(math.MaxUint32))
	}
	return core.ProposalID(v), nil
}

func parseDecision(ctx *cli.Context) (core.Decision, error) {
	points := ctx.Uint("points")
	if uint64(points) > math.MaxUint32 {
		return core.Decision{}, core.ErrOverflow
	}
	switch strings.ToLower(ctx.String("side")) {
	case "aye":
		return core.AyeVote(uint32(points)), nil
	case "nay":
		return core.NayVote(uint32(points)), nil
	default:
		return core.Decision{}, errors.Errorf("unknown side %q, want aye or nay", ctx.String("side"))
	}
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func register(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("register takes exactly one address")
	}
	who, err := parseAccount(ctx.Args().First())
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		origin := core.Root()
		if ctx.IsSet("from") {
			if origin, err = callerOrigin(ctx, n); err != nil {
				return err
			}
		}
		if err := n.Engine.Register(ctx.Context, origin, who); err != nil {
			return err
		}
		fmt.Printf("registered %s\n", who)
		return nil
	})
}

func propose(ctx *cli.Context) error {
	var description common.Hash
	switch {
	case ctx.String("hash") != "":
		raw := common.FromHex(ctx.String("hash"))
		if len(raw) != common.HashLength {
			return errors.Errorf("hash must be %d bytes", common.HashLength)
		}
		description = common.BytesToHash(raw)
	case ctx.String("description") != "":
		description = crypto.Keccak256Hash([]byte(ctx.String("description")))
	}
	return withNode(ctx, func(n *node.Node) error {
		origin, err := callerOrigin(ctx, n)
		if err != nil {
			return err
		}
		id, err := n.Engine.Propose(ctx.Context, origin, description, ctx.Uint64("deadline"))
		if err != nil {
			return err
		}
		fmt.Printf("proposal %d submitted, description %s\n", id, description)
		return nil
	})
}

func extend(ctx *cli.Context) error {
	id, err := proposalIDFlag(ctx, "id")
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		origin, err := callerOrigin(ctx, n)
		if err != nil {
			return err
		}
		return n.Engine.Extend(ctx.Context, origin, id, ctx.Uint64("deadline"))
	})
}

func proposalAction(call func(*core.Engine, context.Context, core.Origin, core.ProposalID) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		id, err := proposalIDFlag(ctx, "id")
		if err != nil {
			return err
		}
		return withNode(ctx, func(n *node.Node) error {
			origin, err := callerOrigin(ctx, n)
			if err != nil {
				return err
			}
			if err := call(n.Engine, ctx.Context, origin, id); err != nil {
				return err
			}
			fmt.Printf("%s proposal %d: ok\n", ctx.Command.Name, id)
			return nil
		})
	}
}

func voteAction(call func(*core.Engine, context.Context, core.Origin, core.ProposalID, core.Decision) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		id, err := proposalIDFlag(ctx, "id")
		if err != nil {
			return err
		}
		decision, err := parseDecision(ctx)
		if err != nil {
			return err
		}
		return withNode(ctx, func(n *node.Node) error {
			origin, err := callerOrigin(ctx, n)
			if err != nil {
				return err
			}
			if err := call(n.Engine, ctx.Context, origin, id, decision); err != nil {
				return err
			}
			fmt.Printf("%s %s on proposal %d: ok\n", ctx.Command.Name, decision, id)
			return nil
		})
	}
}

func showProposal(ctx *cli.Context) error {
	id, err := proposalIDFlag(ctx, "id")
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		p, err := n.Engine.Proposal(ctx.Context, id)
		if err != nil {
			return err
		}
		return printJSON(p)
	})
}

func listProposals(ctx *cli.Context) error {
	start, err := proposalIDFlag(ctx, "start")
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		list, err := n.Engine.Proposals(ctx.Context, start, ctx.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func voteInfo(ctx *cli.Context) error {
	who, err := parseAccount(ctx.String("account"))
	if err != nil {
		return err
	}
	id, err := proposalIDFlag(ctx, "id")
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		v, err := n.Engine.VoteInfo(ctx.Context, who, id)
		if err != nil {
			return err
		}
		return printJSON(v)
	})
}

func balance(ctx *cli.Context) error {
	who, err := parseAccount(ctx.String("account"))
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		acc, err := n.Ledger.Account(ctx.Context, who)
		if err != nil {
			return err
		}
		return printJSON(acc)
	})
}

func setBalance(ctx *cli.Context) error {
	who, err := parseAccount(ctx.String("account"))
	if err != nil {
		return err
	}
	return withNode(ctx, func(n *node.Node) error {
		return n.Ledger.SetBalance(ctx.Context, who, ctx.Uint64("amount"))
	})
}

func advance(ctx *cli.Context) error {
	return withNode(ctx, func(n *node.Node) error {
		if n.BlockClock == nil {
			return errors.Errorf("clock mode is %q, only the block clock can be advanced", n.Config.Clock.Mode)
		}
		height, err := n.BlockClock.Advance(ctx.Context, ctx.Uint64("blocks"))
		if err != nil {
			return err
		}
		fmt.Printf("block height %d\n", height)
		return nil
	})
}
