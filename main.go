// The main package for the profile-validator executable.
package main

import (
	"github.com/JakeFAU/profile-validator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
