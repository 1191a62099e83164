package main

import "github.com/defi-indexer/historic-cache/cmd"

func main() {
	cmd.Execute()
}
