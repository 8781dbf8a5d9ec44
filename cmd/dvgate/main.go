package main

import "github.com/dvgate-project/dvgate/internal/cli"

func main() {
	cli.Execute()
}
