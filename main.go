package main

import "copycat/cmd"

func main() {
	cmd.Execute()
}
