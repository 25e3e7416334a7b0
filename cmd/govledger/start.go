package main

import (
	"fmt"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/govledger"
	"github.com/axiomesh/govledger/node"
	"github.com/axiomesh/govledger/repo"
)

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.LogsDir()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	n, err := node.New(ctx.Context, r.Config)
	if err != nil {
		return fmt.Errorf("new node error: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(n, &wg)

	if err := n.Start(); err != nil {
		return fmt.Errorf("start node failed: %w", err)
	}

	fmt.Println("=============govledger is ready=============")

	wg.Wait()

	return nil
}

func printVersion() {
	fmt.Printf("govledger version: %s-%s-%s\n", govledger.CurrentVersion, govledger.CurrentBranch, govledger.CurrentCommit)
	fmt.Printf("App build date: %s\n", govledger.BuildDate)
	fmt.Printf("System version: %s\n", govledger.Platform)
	fmt.Printf("Golang version: %s\n", govledger.GoVersion)
	fmt.Println()
}

func handleShutdown(n *node.Node, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		if err := n.Stop(); err != nil {
			panic(err)
		}
		wg.Done()
		os.Exit(0)
	}()
}
