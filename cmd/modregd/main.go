package main

import "modelregistry/cmd/modregd/cmd"

func main() {
	cmd.Execute()
}
