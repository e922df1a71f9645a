package main

import "querychat/internal/cli"

func main() {
	cli.Execute()
}
