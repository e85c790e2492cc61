package main

import "github.com/RyanBlaney/zumbido/cmd"

func main() {
	cmd.Execute()
}
