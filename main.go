package main

import "github.com/StinkyLord/modlist-builder/cmd"

func main() {
	cmd.Execute()
}
