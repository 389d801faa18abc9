package main

import "github.com/aweris/crccache/cmd/crccache/cmd"

func main() {
	cmd.Execute()
}
