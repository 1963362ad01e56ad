package main

import "github.com/nextlevelbuilder/termagent/cmd"

func main() {
	cmd.Execute()
}
