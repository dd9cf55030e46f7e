package main

import "github.com/nextlevelbuilder/linkhub/cmd"

func main() {
	cmd.Execute()
}
