package main

import "github.com/roshnikumari-21/facematch/cmd"

func main() {
	cmd.Execute()
}
