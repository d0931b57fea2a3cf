package main

import "github.com/jmehdipour/number-verification/cmd"

func main() {
	cmd.Execute()
}
