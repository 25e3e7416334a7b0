package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/axiomesh/govledger/repo"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "The config manage commands",
	Subcommands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "Generate default config",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "admin",
					Usage: "Account holding root authority",
				},
				&cli.StringFlag{
					Name:  "admin-token",
					Usage: "Bearer token authorizing root calls over the api",
				},
			},
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Show the complete config processed by the environment variable",
			Action: show,
		},
		{
			Name:   "check",
			Usage:  "Check if the config file is valid",
			Action: check,
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Rewrite config with env",
			Action: rewriteWithEnv,
		},
	},
}

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if repo.Initialized(p) {
		fmt.Println("govledger repo already exists")
		return nil
	}

	var opts []repo.Option
	if token := ctx.String("admin-token"); token != "" {
		opts = append(opts, func(c *repo.Config) { c.API.AdminToken = token })
	}
	if admin := ctx.String("admin"); admin != "" {
		opts = append(opts, func(c *repo.Config) { c.Admin = admin })
	}
	if _, err := repo.Init(p, opts...); err != nil {
		return err
	}

	fmt.Printf("initializing govledger at %s\n", p)
	return nil
}

func show(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if !repo.Initialized(p) {
		fmt.Println("govledger repo not exist")
		return nil
	}

	r, err := repo.Load(p)
	if err != nil {
		return err
	}
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if !repo.Initialized(p) {
		fmt.Println("govledger repo not exist")
		return nil
	}

	_, err = repo.Load(p)
	if err != nil {
		fmt.Println("config file format error, please check:", err)
		os.Exit(1)
		return nil
	}

	return nil
}

func rewriteWithEnv(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if !repo.Initialized(p) {
		fmt.Println("govledger repo not exist")
		return nil
	}

	r, err := repo.Load(p)
	if err != nil {
		return err
	}
	if err := r.Flush(); err != nil {
		return err
	}
	return nil
}

func getRootPath(ctx *cli.Context) (string, error) {
	p := ctx.String("repo")

	var err error
	if p == "" {
		p, err = repo.LoadRepoRootFromEnv(p)
		if err != nil {
			return "", err
		}
	}
	return p, nil
}
