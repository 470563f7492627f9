package main

import "github.com/tanq16/recmirror/cmd"

func main() {
	cmd.Execute()
}
