// Command spotlx loads YAGO/SPOTLX fact files into a relational store.
//
//	spotlx load --config job.yaml
//	spotlx indexes
//	spotlx clear --yes
//	spotlx validate
//	spotlx date 19##-##-##
package main

import (
	"os"

	"spotlx/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	cli.Errorf(os.Stderr, format, a...)
	os.Exit(1)
}
