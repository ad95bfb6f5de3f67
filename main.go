package main

import "github.com/NolanFox/rhodesli/cmd"

func main() {
	cmd.Execute()
}
