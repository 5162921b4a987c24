package main

import "github.com/bheemreddy-samsara/appwright/pkg/cli"

func main() {
	cli.Execute()
}
