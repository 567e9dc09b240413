// Package main is the entry point of the norflashsim command.
package main

import "github.com/sarchlab/norflashsim/norflashsim/cmd"

func main() {
	cmd.Execute()
}
