package main

import "chatrelay/cmd"

func main() {
	cmd.Execute()
}
