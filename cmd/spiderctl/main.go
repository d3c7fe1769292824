package main

import (
	"log"

	"github.com/deepcrawl/spidercore/cmd/spiderctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
