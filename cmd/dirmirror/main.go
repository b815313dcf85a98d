package main

import "github.com/aweris/dirmirror/cmd/dirmirror/cmd"

func main() {
	cmd.Execute()
}
