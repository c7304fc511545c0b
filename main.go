package main

import "github.com/skapfer/rubber/cmd"

func main() {
	cmd.Execute()
}
