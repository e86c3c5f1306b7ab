package main

import "github.com/sergev/floppyflux/cmd"

func main() {
	cmd.Execute()
}
