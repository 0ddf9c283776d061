package main

import "github.com/cryptofarm/cryptofarm/services/scheduler/cli"

func main() {
	cli.Execute()
}
