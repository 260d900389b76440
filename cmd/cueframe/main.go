package main

import "github.com/bobarin/cueframe/internal/cli"

func main() {
	cli.Execute()
}
