package main

import (
	"os"

	"go.uber.org/zap"

	sessionctlcmd "github.com/telekom/sessionctl/pkg/sessionctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	code := sessionctlcmd.Execute(sessionctlcmd.DefaultConfig(), args)
	_ = zap.L().Sync()
	return code
}
