package main

import "github.com/mcoot/ratingledger/internal/cli"

func main() {
	cli.Execute()
}
