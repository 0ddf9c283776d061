package main

import "github.com/cryptofarm/cryptofarm/services/gateway/cli"

func main() {
	cli.Execute()
}
