package main

import "github.com/cryptofarm/cryptofarm/services/planner/cli"

func main() {
	cli.Execute()
}
