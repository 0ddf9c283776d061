package main

import "github.com/cryptofarm/cryptofarm/services/ingestor/cli"

func main() {
	cli.Execute()
}
