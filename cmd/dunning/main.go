package main

import (
	"os"

	"github.com/alecthomas/kong"
)

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Path to a dunning.yaml config file." type:"path"`
}

type CLI struct {
	Globals

	Migrate    MigrateCmd    `cmd:"" help:"Create or upgrade the database schema."`
	Sweep      SweepCmd      `cmd:"" help:"Execute the current step of every due execution once."`
	Serve      ServeCmd      `cmd:"" help:"Run sweeps on the configured cron schedule until interrupted."`
	Campaigns  CampaignsCmd  `cmd:"" help:"Manage campaign definitions."`
	Executions ExecutionsCmd `cmd:"" help:"Start and control executions."`
	Stats      StatsCmd      `cmd:"" help:"Print recovery statistics for a tenant."`
}

func newParser(cli *CLI, opts ...kong.Option) (*kong.Kong, error) {
	base := []kong.Option{
		kong.Name("dunning"),
		kong.Description("Dunning campaign engine."),
		kong.UsageOnError(),
	}
	return kong.New(cli, append(base, opts...)...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
