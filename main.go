package main

import "github.com/nextlevelbuilder/neverbot/cmd"

func main() {
	cmd.Execute()
}
