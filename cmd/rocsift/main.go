// Command rocsift is a small introspection tool for AMD discovery-style
// GPUs: it peeks and pokes registers, dumps the active command-processor
// runlist, lists enumerated partitions, and walks a process's page tables,
// talking only to package sift the way gokvm's main.go talks only to its
// flag package.
package main

import (
	"log"

	"github.com/alecthomas/kong"

	"github.com/rocsift/rocsift-go/internal/diag"
)

// CLI is the root kong command set. Every leaf carries its own Partition
// flag rather than threading one shared flag through kong.Bind, mirroring
// gokvm's BootCMD/ProbeCMD pattern of self-contained subcommand structs.
type CLI struct {
	RegPeek RegPeekCmd `cmd:"" help:"Read one 32-bit MMIO register."`
	RegPoke RegPokeCmd `cmd:"" help:"Write one 32-bit MMIO register."`
	DumpRLS DumpRLSCmd `cmd:"" help:"Dump the active command-processor runlist."`
	PS      PSCmd      `cmd:"" help:"List enumerated devices and partitions."`
	VA2PA   VA2PACmd   `cmd:"" help:"Translate a GPU virtual address to a physical one."`
}

func main() {
	stop := diag.MaybeStart()
	defer stop()

	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("rocsift"),
		kong.Description("rocsift inspects AMD GPU registers, runlists, and page tables"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if err := ctx.Run(); err != nil {
		log.Fatal(err)
	}
}
