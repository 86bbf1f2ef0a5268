package main

import "github.com/tactilityproject/ttbuild/cmd/ttbuild/cmd"

func main() {
	cmd.Execute()
}
