package main

import "mailfolders/internal/cli"

func main() {
	cli.Execute()
}
